package model

import (
	"fmt"
)

const (
	// StatusPending marks a reserved subdomain whose remote resources are
	// still being provisioned. Pending rows are never exposed by the API.
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

type Status string

func (s Status) IsValid() error {
	switch s {
	case StatusPending, StatusActive, StatusDeleted:
		return nil
	}

	return fmt.Errorf("invalid status %q", string(s))
}

// Status filters accepted by the list endpoint.
const (
	FilterActive  = "active"
	FilterDeleted = "deleted"
	FilterAll     = "all"
)

func IsValidFilter(f string) error {
	switch f {
	case FilterActive, FilterDeleted, FilterAll:
		return nil
	}

	return fmt.Errorf("invalid status filter %q", f)
}

type CreateRequest struct {
	Subdomain   string `json:"subdomain,omitempty"`
	LocalPort   int    `json:"localPort,omitempty"`
	Description string `json:"description,omitempty"`
}

type CreateResponse struct {
	Success      bool         `json:"success"`
	Subdomain    string       `json:"subdomain"`
	PublicURL    string       `json:"publicUrl"`
	TunnelID     string       `json:"tunnelId"`
	TunnelToken  string       `json:"tunnelToken"`
	CreatedAt    string       `json:"createdAt"`
	Instructions Instructions `json:"instructions"`
}

type Instructions struct {
	CLI    string `json:"cli"`
	Docker string `json:"docker"`
}

type CheckResponse struct {
	Subdomain string `json:"subdomain"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Partial bool   `json:"partial,omitempty"`
	Message string `json:"message"`
}

type SubdomainSummary struct {
	Subdomain string `json:"subdomain"`
	PublicURL string `json:"publicUrl"`
	TunnelID  string `json:"tunnelId"`
	CreatedAt string `json:"createdAt"`
	Status    Status `json:"status"`
}

type ListResponse struct {
	Success    bool               `json:"success"`
	Subdomains []SubdomainSummary `json:"subdomains"`
}

// SubdomainDetail is the full record view. The tunnel secret is
// deliberately absent; it leaves the system only inside the tunnel token.
type SubdomainDetail struct {
	ID          uint   `json:"id"`
	Subdomain   string `json:"subdomain"`
	TunnelID    string `json:"tunnelId"`
	TunnelName  string `json:"tunnelName"`
	DNSRecordID string `json:"dnsRecordId,omitempty"`
	PublicURL   string `json:"publicUrl"`
	LocalPort   int    `json:"localPort"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type DetailResponse struct {
	Success   bool            `json:"success"`
	Subdomain SubdomainDetail `json:"subdomain"`
}

type ErrorResponse struct {
	Status  int         `json:"status,omitempty"`
	Message string      `json:"msg,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
