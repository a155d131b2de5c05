package dto

import "encoding/json"

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// InsufficientCreditsResponse is returned with 402.
type InsufficientCreditsResponse struct {
	Error     bool   `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
	IsTrial   bool   `json:"isTrial"`
}

type CreditUsage struct {
	Consumed  int `json:"consumed"`
	Remaining int `json:"remaining"`
}

type AnalyzeResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Credits   CreditUsage     `json:"credits"`
	RequestID string          `json:"requestId"`
}

type BalanceResponse struct {
	Balance int  `json:"balance"`
	IsTrial bool `json:"isTrial"`
}

type TransactionResponse struct {
	Amount       int    `json:"amount"`
	Source       string `json:"source"`
	Description  string `json:"description"`
	BalanceAfter int    `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
	PlanCount int    `json:"plan_count"`
}
