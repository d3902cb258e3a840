package resources

// Status is the install state of a resource group.
type Status string

const (
	StatusUnknown    Status = "UNKNOWN"
	StatusNotInit    Status = "NOT_INIT"
	StatusNeedUpdate Status = "NEED_UPDATE"
	StatusUpdating   Status = "UPDATING"
	StatusLatest     Status = "LATEST"
)

// Kind names a resource bundle.
type Kind string

const (
	KindServer   Kind = "server"
	KindFrontend Kind = "frontend"
	KindCli      Kind = "cli"
)

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }
