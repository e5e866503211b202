/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY FORMATTING:
  Monetary amounts are serialized as strings with two decimal places
  (decimal.StringFixed(2)) so clients never touch binary floats.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/pagestream/revenue-engine/settlement"
)

// =============================================================================
// DOCUMENTS
// =============================================================================

// DocumentDTO represents a document in API responses.
type DocumentDTO struct {
	ID               string `json:"id"`
	AuthorID         string `json:"author_id"`
	Title            string `json:"title"`
	TotalReadingSecs int64  `json:"total_reading_time"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// CreateDocumentRequest is the request to register a document.
type CreateDocumentRequest struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	Title    string `json:"title"`
}

func documentDTO(d settlement.Document) DocumentDTO {
	return DocumentDTO{
		ID:               d.ID,
		AuthorID:         d.AuthorID,
		Title:            d.Title,
		TotalReadingSecs: d.TotalReadingSecs,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// IMPRESSIONS
// =============================================================================

// RecordImpressionRequest is the request to log an ad impression.
type RecordImpressionRequest struct {
	DocumentID string `json:"document_id"`
	ViewerID   string `json:"viewer_id,omitempty"`
	AdType     string `json:"ad_type,omitempty"`
	AdPosition string `json:"ad_position"`
	PageNumber int    `json:"page_number,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// =============================================================================
// READING SESSIONS
// =============================================================================

// CreateSessionRequest starts a reading session.
type CreateSessionRequest struct {
	DocumentID string `json:"document_id"`
	ReaderID   string `json:"reader_id,omitempty"`
}

// HeartbeatRequest advances a session's cumulative progress.
type HeartbeatRequest struct {
	ReadingSecs int64 `json:"reading_time"`
	CurrentPage int   `json:"current_page,omitempty"`
}

// SessionDTO represents a reading session in API responses.
type SessionDTO struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	ReaderID    string `json:"reader_id,omitempty"`
	ReadingSecs int64  `json:"reading_time"`
	CurrentPage int    `json:"current_page"`
	LastReadAt  string `json:"last_read_at"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func sessionDTO(s settlement.ReadingSession) SessionDTO {
	return SessionDTO{
		ID:          s.ID,
		DocumentID:  s.DocumentID,
		ReaderID:    s.ReaderID,
		ReadingSecs: s.ReadingSecs,
		CurrentPage: s.CurrentPage,
		LastReadAt:  s.LastReadAt.Format(time.RFC3339),
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PROFILES
// =============================================================================

// CreateProfileRequest registers an account profile.
type CreateProfileRequest struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"display_name"`
	IsPremium        bool    `json:"is_premium"`
	PremiumExpiresAt *string `json:"premium_expires_at,omitempty"`
	CreatedAt        *string `json:"created_at,omitempty"`
}

// ProfileDTO represents a profile in API responses.
type ProfileDTO struct {
	ID               string  `json:"id"`
	DisplayName      string  `json:"display_name"`
	IsPremium        bool    `json:"is_premium"`
	PremiumExpiresAt *string `json:"premium_expires_at,omitempty"`
	PendingPayout    string  `json:"pending_payout_usd"`
	AuthorTier       int     `json:"author_tier"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

func profileDTO(p settlement.Profile) ProfileDTO {
	dto := ProfileDTO{
		ID:            p.ID,
		DisplayName:   p.DisplayName,
		IsPremium:     p.IsPremium,
		PendingPayout: p.PendingPayout.StringFixed(2),
		AuthorTier:    p.AuthorTier,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.PremiumExpiresAt != nil {
		s := p.PremiumExpiresAt.Format(time.RFC3339)
		dto.PremiumExpiresAt = &s
	}
	return dto
}

// =============================================================================
// EARNINGS
// =============================================================================

// EarningsDTO summarizes an author's payout state and settlement history.
type EarningsDTO struct {
	AuthorID       string             `json:"author_id"`
	Tier           int                `json:"tier"`
	RevenueShare   string             `json:"revenue_share"`
	PendingPayout  string             `json:"pending_payout_usd"`
	PayoutEligible bool               `json:"payout_eligible"`
	MinimumPayout  string             `json:"minimum_payout_usd"`
	Records        []RevenueRecordDTO `json:"records"`
}

// RevenueRecordDTO is one monthly settlement row.
type RevenueRecordDTO struct {
	ID                 string `json:"id"`
	Month              string `json:"month"`
	Tier               int    `json:"tier"`
	AdImpressions      int64  `json:"ad_impressions"`
	AdGrossRevenue     string `json:"ad_gross_revenue"`
	AdAuthorShare      string `json:"ad_author_share"`
	PremiumMinutes     int64  `json:"premium_reading_minutes"`
	PremiumAuthorShare string `json:"premium_author_share"`
	TotalRevenue       string `json:"total_author_revenue"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at,omitempty"`
}

func revenueRecordDTO(rec settlement.RevenueRecord) RevenueRecordDTO {
	return RevenueRecordDTO{
		ID:                 rec.ID,
		Month:              rec.Month,
		Tier:               rec.Tier,
		AdImpressions:      rec.AdImpressions,
		AdGrossRevenue:     rec.AdGrossRevenue.StringFixed(2),
		AdAuthorShare:      rec.AdAuthorShare.StringFixed(2),
		PremiumMinutes:     rec.PremiumMinutes,
		PremiumAuthorShare: rec.PremiumAuthorShare.StringFixed(2),
		TotalRevenue:       rec.TotalAuthorRevenue.StringFixed(2),
		Status:             string(rec.Status),
		CreatedAt:          rec.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettleResponse is the outcome of a settlement trigger.
type SettleResponse struct {
	Message string            `json:"message"`
	Month   string            `json:"month"`
	Skipped bool              `json:"skipped,omitempty"`
	Settled int               `json:"settled"`
	Results []AuthorResultDTO `json:"results,omitempty"`
}

// AuthorResultDTO is one author's line in a settlement response.
type AuthorResultDTO struct {
	AuthorID           string `json:"author_id"`
	Tier               int    `json:"tier"`
	AdImpressions      int64  `json:"ad_impressions"`
	AdAuthorShare      string `json:"ad_revenue"`
	PremiumMinutes     int64  `json:"premium_minutes"`
	PremiumAuthorShare string `json:"premium_revenue"`
	Total              string `json:"total"`
}

func authorResultDTO(r settlement.AuthorResult) AuthorResultDTO {
	return AuthorResultDTO{
		AuthorID:           r.AuthorID,
		Tier:               r.Tier,
		AdImpressions:      r.AdImpressions,
		AdAuthorShare:      r.AdAuthorShare.StringFixed(2),
		PremiumMinutes:     r.PremiumMinutes,
		PremiumAuthorShare: r.PremiumAuthorShare.StringFixed(2),
		Total:              r.Total.StringFixed(2),
	}
}

// RunDTO is one settlement run audit row.
type RunDTO struct {
	ID           string `json:"id"`
	Month        string `json:"month"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	Status       string `json:"status"`
	SettledCount int    `json:"settled_count"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	CompletedAt  string `json:"completed_at,omitempty"`
}

func runDTO(run settlement.RunRecord) RunDTO {
	dto := RunDTO{
		ID:           run.ID,
		Month:        run.Month,
		PeriodStart:  run.PeriodStart.Format(time.RFC3339),
		PeriodEnd:    run.PeriodEnd.Format(time.RFC3339),
		Status:       string(run.Status),
		SettledCount: run.SettledCount,
		Error:        run.Error,
		StartedAt:    run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
