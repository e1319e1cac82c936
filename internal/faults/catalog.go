package faults

// Catalog returns the twelve faults the registry exposes, in the order
// they're documented, each bound to the given process-wide dependencies.
func Catalog(deps Dependencies) []Fault {
	return []Fault{
		NewNullTransportFault(deps),
		NewNullApplicationLayerFault(deps),
		NewTcpConnectionRefused(deps),
		NewTcpConnectionUnresponsive(deps),
		NewAttachUnresponsive(deps),
		NewDetachUnresponsive(deps),
		NewDisconnectWithFailedResume(deps),
		NewEnterFailedWithNonfatalNack(deps),
		NewUpdateFailedWithNonfatalNack(deps),
		NewDisconnectAndSuspend(deps),
		NewReenterOnResumeFailed(deps),
		NewEnterUnresponsive(deps),
	}
}

// ByName indexes Catalog's faults by name for O(1) lookup from the
// control surface.
func ByName(deps Dependencies) map[string]Fault {
	out := make(map[string]Fault)
	for _, f := range Catalog(deps) {
		out[f.Name()] = f
	}
	return out
}
