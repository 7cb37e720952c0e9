package vcd

// Wire types of the tenant-management API. Only the fields the migrator reads or writes
// are modeled.

type vdcRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vdcPage struct {
	ResultTotal int         `json:"resultTotal"`
	Values      []vdcRecord `json:"values"`
}

type vappRecord struct {
	Href string `json:"href"`
	Name string `json:"name"`
	Vdc  string `json:"vdc"`
}

type queryResult struct {
	Total  int          `json:"total"`
	Record []vappRecord `json:"record"`
}

type reference struct {
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

type importVmAsVAppParams struct {
	Name       string    `json:"name"`
	SourceMove bool      `json:"sourceMove"`
	VmMoRef    string    `json:"vmMoRef"`
	Vdc        reference `json:"vdc"`
}

type task struct {
	Href      string     `json:"href"`
	Name      string     `json:"name,omitempty"`
	Status    string     `json:"status"`
	Operation string     `json:"operation,omitempty"`
	Progress  int        `json:"progress,omitempty"`
	Error     *taskError `json:"error,omitempty"`
}

type taskError struct {
	MajorErrorCode int    `json:"majorErrorCode"`
	MinorErrorCode string `json:"minorErrorCode"`
	Message        string `json:"message"`
}

type tasksInProgress struct {
	Task []task `json:"task"`
}

type vapp struct {
	Href  string           `json:"href"`
	Name  string           `json:"name"`
	Tasks *tasksInProgress `json:"tasks,omitempty"`
}

type metadataDomain struct {
	Visibility string `json:"visibility"`
	Value      string `json:"value"`
}

type typedValue struct {
	Type  string `json:"_type"`
	Value string `json:"value"`
}

type metadataEntry struct {
	Domain     *metadataDomain `json:"domain,omitempty"`
	Key        string          `json:"key"`
	TypedValue typedValue      `json:"typedValue"`
}

type metadata struct {
	MetadataEntry []metadataEntry `json:"metadataEntry"`
}

// apiError is the body of a non successful reply.
type apiError struct {
	MajorErrorCode int    `json:"majorErrorCode"`
	MinorErrorCode string `json:"minorErrorCode"`
	Message        string `json:"message"`
}
