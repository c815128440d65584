package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/fragment"
	"github.com/bigkaa/storagemarket/internal/protocol"
	"github.com/bigkaa/storagemarket/internal/registry"
)

// recordingConn — соединение, запоминающее отправленные сообщения.
type recordingConn struct {
	id      string
	mu      sync.Mutex
	sent    []protocol.Envelope
	sendErr error
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(_ context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *recordingConn) messages() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.sent...)
}

// agreementsStub — AgreementLookup поверх map.
type agreementsStub map[string]*model.Agreement

func (s agreementsStub) FindAgreement(_ context.Context, id string) (*model.Agreement, error) {
	return s[id], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *registry.Registry, *Tracker) {
	t.Helper()
	reg := registry.New(discardLogger())
	tracker := NewTracker(time.Minute, time.Minute, discardLogger())
	t.Cleanup(tracker.Close)
	return New(reg, tracker, discardLogger(), opts...), reg, tracker
}

func TestDispatch_NoProvider(t *testing.T) {
	d, _, tracker := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), FileName: "a.txt"})

	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("ожидалась ErrNoProviderAvailable, получено %v", err)
	}
	if tracker.Pending() != 0 {
		t.Error("передача не должна регистрироваться")
	}
}

func TestDispatch_NoProviderWithEnoughCapacity(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	conn := &recordingConn{id: "c1"}
	reg.Register(conn, "0x01", 0)

	_, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), FileName: "a.txt"})

	if !errors.Is(err, ErrNoProviderAvailable) {
		t.Fatalf("ожидалась ErrNoProviderAvailable, получено %v", err)
	}
	if n := len(conn.messages()); n != 0 {
		t.Errorf("отправлено %d сообщений, ожидалось 0", n)
	}
}

func TestDispatch_SendsSingleStoreFile(t *testing.T) {
	d, reg, tracker := newTestDispatcher(t)
	conn := &recordingConn{id: "c1"}
	reg.Register(conn, "0x00000000000000000000000000000000000000aa", 10)

	data := []byte("hello fragment")
	res, err := d.Dispatch(context.Background(), Request{Data: data, FileName: "report.pdf", AgreementID: "007"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(res.FileID) != 32 || !ValidFileID(res.FileID) {
		t.Errorf("FileID = %q, ожидалось 32 hex-символа", res.FileID)
	}
	if res.AgreementID != "7" || res.Status != model.TransferPending || res.ConnectionID != "c1" {
		t.Errorf("Result = %+v", res)
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("отправлено %d сообщений, ожидалось 1", len(msgs))
	}
	if msgs[0].Event != protocol.EventStoreFile {
		t.Errorf("Event = %q, ожидалось %q", msgs[0].Event, protocol.EventStoreFile)
	}

	var sf protocol.StoreFile
	if err := msgs[0].Decode(&sf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if sf.FileID != res.FileID || sf.OriginalFileName != "report.pdf" || sf.AgreementID != "7" {
		t.Errorf("store_file = %+v", sf)
	}

	decoded, err := fragment.Base64Encoder{}.Decode(sf.EncryptedFragment)
	if err != nil {
		t.Fatalf("Base64 Decode() error: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("полезная нагрузка = %q, ожидалось %q", decoded, data)
	}

	tr, err := tracker.Status(res.FileID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if tr.Status != model.TransferPending || tr.Size != int64(len(data)) {
		t.Errorf("Transfer = %+v", tr)
	}
}

func TestDispatch_FirstRegisteredWins(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	first := &recordingConn{id: "first"}
	second := &recordingConn{id: "second"}
	reg.Register(first, "0x01", 5)
	reg.Register(second, "0x02", 5)

	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), FileName: "f"}); err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
	}

	if n := len(first.messages()); n != 3 {
		t.Errorf("первое соединение: %d сообщений, ожидалось 3", n)
	}
	if n := len(second.messages()); n != 0 {
		t.Errorf("второе соединение: %d сообщений, ожидалось 0", n)
	}
}

func TestDispatch_UniqueFileIDs(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	reg.Register(&recordingConn{id: "c1"}, "0x01", 5)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		res, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), FileName: "f"})
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if seen[res.FileID] {
			t.Fatalf("повтор fileId %s", res.FileID)
		}
		seen[res.FileID] = true
	}
}

func TestDispatch_SendFailureMarksFailed(t *testing.T) {
	d, reg, tracker := newTestDispatcher(t)
	fixedID := "00112233445566778899aabbccddeeff"
	d.newFileID = func() (string, error) { return fixedID, nil }
	reg.Register(&recordingConn{id: "c1", sendErr: errors.New("соединение закрыто")}, "0x01", 5)

	if _, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), FileName: "f"}); err == nil {
		t.Fatal("ожидалась ошибка отправки")
	}

	tr, err := tracker.Status(fixedID)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if tr.Status != model.TransferFailed || !strings.Contains(tr.Error, "соединение закрыто") {
		t.Errorf("Transfer = %+v", tr)
	}
}

func TestDispatch_WithCipher(t *testing.T) {
	cipher, err := fragment.NewXChaCha20Cipher(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("NewXChaCha20Cipher() error: %v", err)
	}

	d, reg, _ := newTestDispatcher(t, WithCipher(cipher))
	conn := &recordingConn{id: "c1"}
	reg.Register(conn, "0x01", 5)

	data := []byte("secret payload")
	if _, err := d.Dispatch(context.Background(), Request{Data: data, FileName: "f"}); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	var sf protocol.StoreFile
	if err := conn.messages()[0].Decode(&sf); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	sealed, err := fragment.Base64Encoder{}.Decode(sf.EncryptedFragment)
	if err != nil {
		t.Fatalf("Base64 Decode() error: %v", err)
	}
	if bytes.Equal(sealed, data) {
		t.Error("фрагмент отправлен без шифрования")
	}

	opened, err := cipher.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if !bytes.Equal(opened, data) {
		t.Errorf("Open() = %q, ожидалось %q", opened, data)
	}
}

func TestDispatch_Validation(t *testing.T) {
	consumer := "0x00000000000000000000000000000000000000cc"
	lookup := agreementsStub{
		"1": {AgreementID: "1", Consumer: consumer, IsActive: true},
		"2": {AgreementID: "2", Consumer: consumer, IsActive: false},
		// Частичная запись: PaymentMade пришёл раньше AgreementCreated.
		"3": {AgreementID: "3", IsActive: true},
	}
	d, reg, tracker := newTestDispatcher(t, WithAgreementLookup(lookup))
	conn := &recordingConn{id: "c1"}
	reg.Register(conn, "0x01", 5)

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"пустой файл", Request{FileName: "f"}, ErrEmptyPayload},
		{"нечисловой договор", Request{Data: []byte("x"), AgreementID: "abc"}, model.ErrInvalidID},
		{"неизвестный договор", Request{Data: []byte("x"), AgreementID: "999999", WalletAddress: consumer}, ErrAgreementNotFound},
		{"неактивный договор", Request{Data: []byte("x"), AgreementID: "2", WalletAddress: consumer}, ErrAgreementInactive},
		{"чужой договор", Request{Data: []byte("x"), AgreementID: "1", WalletAddress: "0x00000000000000000000000000000000000000dd"}, ErrAgreementForbidden},
		{"договор без условий", Request{Data: []byte("x"), AgreementID: "3", WalletAddress: "0x00000000000000000000000000000000000000dd"}, ErrAgreementNotFound},
		{"договор без условий, без кошелька", Request{Data: []byte("x"), AgreementID: "3"}, ErrAgreementNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Dispatch(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("ожидалась %v, получено %v", tt.wantErr, err)
			}
		})
	}
	if n := len(conn.messages()); n != 0 {
		t.Errorf("отправлено %d сообщений, ожидалось 0", n)
	}
	if tracker.Pending() != 0 {
		t.Errorf("Pending() = %d, ожидалось 0", tracker.Pending())
	}

	// Адрес сравнивается без учёта регистра.
	if _, err := d.Dispatch(context.Background(), Request{Data: []byte("x"), AgreementID: "1", WalletAddress: "0x00000000000000000000000000000000000000CC"}); err != nil {
		t.Errorf("Dispatch() error: %v", err)
	}
}

func TestRequiredGB(t *testing.T) {
	tests := []struct {
		size int64
		want int64
	}{
		{0, 1},
		{1, 1},
		{1 << 30, 1},
		{1<<30 + 1, 2},
	}
	for _, tt := range tests {
		if got := RequiredGB(tt.size); got != tt.want {
			t.Errorf("RequiredGB(%d) = %d, ожидалось %d", tt.size, got, tt.want)
		}
	}
}

func TestValidFileID(t *testing.T) {
	id, err := NewFileID()
	if err != nil {
		t.Fatalf("NewFileID() error: %v", err)
	}
	if !ValidFileID(id) {
		t.Errorf("ValidFileID(%q) = false", id)
	}
	for _, bad := range []string{"xyz", "00112233445566778899AABBCCDDEEFF", "../../../../../../../../etc/passwd"} {
		if ValidFileID(bad) {
			t.Errorf("ValidFileID(%q) = true", bad)
		}
	}
}
