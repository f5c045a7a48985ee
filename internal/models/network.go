package models

// NetworkRate is the aggregate bandwidth of all non-virtual interfaces.
type NetworkRate struct {
	RxKBs float64 `json:"rxKBs"`
	TxKBs float64 `json:"txKBs"`
}
