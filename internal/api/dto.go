package api

// StatusResponse lists the served instances.
type StatusResponse struct {
	RequestID string            `json:"request_id"`
	Instances []InstanceSummary `json:"instances"`
}

type InstanceSummary struct {
	ID           string `json:"id"`
	Device       string `json:"device"`
	NumInputs    int    `json:"num_inputs"`
	NumOutputs   int    `json:"num_outputs"`
	NumConstants int    `json:"num_constants"`
}

type InstanceDetail struct {
	InstanceSummary
	Constants []ConstantInfo `json:"constants"`
}

type ConstantInfo struct {
	Ordinal     int     `json:"ordinal"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Shape       []int64 `json:"shape"`
	DataSize    uint64  `json:"data_size"`
	FromFolded  bool    `json:"from_folded,omitempty"`
	OriginalFQN string  `json:"original_fqn,omitempty"`
}

type FinishedResponse struct {
	Finished bool `json:"finished"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
