package models

// Requests for the run control HTTP endpoints.

type StartRequest struct {
	Mode string `query:"mode" json:"mode" default:"both" validate:"oneof=pre post opening_price both"`
}

type StatusRequest struct {
	LogLimit int `query:"log_limit" json:"log_limit" default:"50" validate:"gte=1,lte=1000"`
}
