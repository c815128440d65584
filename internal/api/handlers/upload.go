// upload.go — приём файла и отправка фрагмента провайдеру.
// POST /upload (multipart/form-data: file, walletAddress, agreementId).
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/bigkaa/storagemarket/internal/api/errors"
	"github.com/bigkaa/storagemarket/internal/dispatch"
	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// multipartOverhead — запас на заголовки частей и текстовые поля формы.
const multipartOverhead = 1 << 20

// maxMemory — объём формы в памяти, остальное во временных файлах.
const maxMemory = 32 << 20

// Upload принимает файл и отправляет его одному подходящему провайдеру.
// POST /upload → 202 с fileId; итог передачи — GET /transfers/{fileId}.
func (h *APIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "Размер файла превышает допустимый")
			return
		}
		apierrors.ValidationError(w, "Ожидается multipart/form-data с полем file")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}
	defer file.Close()

	if header.Size > h.uploadMaxBytes {
		apierrors.PayloadTooLarge(w, "Размер файла превышает допустимый")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.uploadMaxBytes+1))
	if err != nil {
		h.internalError(w, "Ошибка чтения загружаемого файла", err)
		return
	}
	if int64(len(data)) > h.uploadMaxBytes {
		apierrors.PayloadTooLarge(w, "Размер файла превышает допустимый")
		return
	}

	wallet := strings.TrimSpace(r.FormValue("walletAddress"))
	if wallet != "" && !common.IsHexAddress(wallet) {
		apierrors.ValidationError(w, "Некорректный walletAddress")
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Data:          data,
		FileName:      header.Filename,
		AgreementID:   strings.TrimSpace(r.FormValue("agreementId")),
		WalletAddress: model.NormalizeAddress(wallet),
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNoProviderAvailable):
			apierrors.ServiceUnavailable(w, "Нет подключённого провайдера с достаточным объёмом")
		case errors.Is(err, dispatch.ErrEmptyPayload):
			apierrors.ValidationError(w, "Файл пуст")
		case errors.Is(err, model.ErrInvalidID):
			apierrors.ValidationError(w, "agreementId должен быть неотрицательным целым числом")
		case errors.Is(err, dispatch.ErrAgreementNotFound):
			apierrors.NotFound(w, "Договор не найден")
		case errors.Is(err, dispatch.ErrAgreementInactive):
			apierrors.Conflict(w, "Договор не активен")
		case errors.Is(err, dispatch.ErrAgreementForbidden):
			apierrors.Forbidden(w, "Договор принадлежит другому потребителю")
		default:
			h.internalError(w, "Ошибка отправки фрагмента", err,
				slog.String("file_name", header.Filename))
		}
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		Message:         "Фрагмент отправлен провайдеру",
		FileID:          result.FileID,
		AgreementID:     result.AgreementID,
		ProviderAddress: result.ProviderAddress,
		Status:          string(result.Status),
	})
}
