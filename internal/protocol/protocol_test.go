package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := New(EventStoreFile, StoreFile{
		AgreementID:       "7",
		FileID:            "00112233445566778899aabbccddeeff",
		EncryptedFragment: "aGVsbG8=",
		OriginalFileName:  "a.txt",
	})
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json.Marshal() вернул ошибку: %v", err)
	}

	var generic map[string]map[string]string
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("json.Unmarshal() вернул ошибку: %v", err)
	}
	data := generic["data"]
	for _, key := range []string{"agreementId", "fileId", "encryptedFragment", "originalFileName"} {
		if _, ok := data[key]; !ok {
			t.Errorf("в store_file отсутствует поле %s: %s", key, raw)
		}
	}
}

func TestDecode(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"event":"provider_registration","data":{"providerAddress":"0xab","availableStorage":12}}`), &env); err != nil {
		t.Fatalf("json.Unmarshal() вернул ошибку: %v", err)
	}

	var reg ProviderRegistration
	if err := env.Decode(&reg); err != nil {
		t.Fatalf("Decode() вернул ошибку: %v", err)
	}
	if reg.ProviderAddress != "0xab" || reg.AvailableStorage != 12 {
		t.Errorf("ожидалось {0xab 12}, получено %+v", reg)
	}
}

func TestDecode_Errors(t *testing.T) {
	var reg ProviderRegistration

	if err := (Envelope{Event: EventProviderRegistration}).Decode(&reg); err == nil {
		t.Error("ожидалась ошибка для пустого data")
	}
	if err := (Envelope{Event: EventProviderRegistration, Data: json.RawMessage(`{"availableStorage":"x"}`)}).Decode(&reg); err == nil {
		t.Error("ожидалась ошибка для некорректного типа поля")
	}
}
