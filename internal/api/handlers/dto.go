// dto.go — JSON-представления доменных моделей.
// Числа uint256 и цены сериализуются строками (shopspring/decimal), чтобы
// не терять точность в JSON-клиентах.
package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// offeringResponse — предложение провайдера.
type offeringResponse struct {
	OfferingID       string          `json:"offeringId"`
	Provider         string          `json:"provider"`
	Capacity         int64           `json:"capacity"`
	PricePerGBPerDay decimal.Decimal `json:"pricePerGBPerDay"`
	IsAvailable      bool            `json:"isAvailable"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// agreementResponse — договор аренды. pricePerGBPerDay = null для
// договоров с некорректными условиями.
type agreementResponse struct {
	AgreementID      string           `json:"agreementId"`
	Consumer         string           `json:"consumer"`
	Provider         string           `json:"provider"`
	Capacity         int64            `json:"capacity"`
	TotalPrice       decimal.Decimal  `json:"totalPrice"`
	PricePerGBPerDay *decimal.Decimal `json:"pricePerGBPerDay"`
	StartTime        int64            `json:"startTime"`
	EndTime          int64            `json:"endTime"`
	IsActive         bool             `json:"isActive"`
	TotalPaid        decimal.Decimal  `json:"totalPaid"`
	LastPaymentAt    *time.Time       `json:"lastPaymentAt"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// uploadResponse — подтверждение отправки фрагмента (202).
type uploadResponse struct {
	Message         string `json:"message"`
	FileID          string `json:"fileId"`
	AgreementID     string `json:"agreementId,omitempty"`
	ProviderAddress string `json:"providerAddress"`
	Status          string `json:"status"`
}

// transferResponse — состояние передачи фрагмента.
type transferResponse struct {
	FileID           string     `json:"fileId"`
	AgreementID      string     `json:"agreementId,omitempty"`
	ProviderAddress  string     `json:"providerAddress"`
	OriginalFileName string     `json:"originalFileName"`
	Size             int64      `json:"size"`
	Status           string     `json:"status"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// providerResponse — подключённый провайдер.
type providerResponse struct {
	ConnectionID     string    `json:"connectionId"`
	ProviderAddress  string    `json:"providerAddress"`
	AvailableStorage int64     `json:"availableStorage"`
	ConnectedAt      time.Time `json:"connectedAt"`
}

func toOfferingResponses(list []*model.Offering) []offeringResponse {
	out := make([]offeringResponse, 0, len(list))
	for _, o := range list {
		out = append(out, offeringResponse{
			OfferingID:       o.OfferingID,
			Provider:         o.Provider,
			Capacity:         o.Capacity,
			PricePerGBPerDay: o.PricePerGBPerDay,
			IsAvailable:      o.IsAvailable,
			CreatedAt:        o.CreatedAt,
			UpdatedAt:        o.UpdatedAt,
		})
	}
	return out
}

func toAgreementResponse(a *model.Agreement) agreementResponse {
	return agreementResponse{
		AgreementID:      a.AgreementID,
		Consumer:         a.Consumer,
		Provider:         a.Provider,
		Capacity:         a.Capacity,
		TotalPrice:       a.TotalPrice,
		PricePerGBPerDay: a.PricePerGBPerDay,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		IsActive:         a.IsActive,
		TotalPaid:        a.TotalPaid,
		LastPaymentAt:    a.LastPaymentAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toAgreementResponses(list []*model.Agreement) []agreementResponse {
	out := make([]agreementResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAgreementResponse(a))
	}
	return out
}

func toTransferResponse(t model.Transfer) transferResponse {
	return transferResponse{
		FileID:           t.FileID,
		AgreementID:      t.AgreementID,
		ProviderAddress:  t.ProviderAddress,
		OriginalFileName: t.OriginalFileName,
		Size:             t.Size,
		Status:           string(t.Status),
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func toProviderResponses(list []model.ProviderConnection) []providerResponse {
	out := make([]providerResponse, 0, len(list))
	for _, p := range list {
		out = append(out, providerResponse{
			ConnectionID:     p.ConnectionID,
			ProviderAddress:  p.ProviderAddress,
			AvailableStorage: p.AvailableStorage,
			ConnectedAt:      p.ConnectedAt,
		})
	}
	return out
}
