package models

// Requests for engine HTTP endpoints.

type TradesRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type ManualExitRequest struct {
	Reason string `json:"reason" default:"Manual Exit" validate:"max=64"`
}

type TradingToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type AckAlertRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}
