package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testFileID = "00112233445566778899aabbccddeeff"

// TestNew_CreatesDirectory проверяет создание директории данных.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestSave проверяет сохранение фрагмента, имя и checksum.
func TestSave(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("Тестовый фрагмент")
	result, err := fs.Save(testFileID, "report.pdf", content)
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if result.Name != testFileID+"_report.pdf" {
		t.Errorf("имя файла = %s", result.Name)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), result.Size)
	}
	sum := sha256.Sum256(content)
	if result.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("неверный checksum: %s", result.Checksum)
	}

	data, err := os.ReadFile(result.FullPath)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != string(content) {
		t.Error("содержимое не совпадает")
	}

	if !fs.Exists(testFileID, "report.pdf") {
		t.Error("Exists() = false для сохранённого фрагмента")
	}
	p, err := fs.Path(testFileID, "report.pdf")
	if err != nil || p != result.FullPath {
		t.Errorf("Path() = %s, %v", p, err)
	}
}

// TestSave_NoTempFilesLeft проверяет отсутствие временных файлов после записи.
func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	fs, _ := New(dir)

	if _, err := fs.Save(testFileID, "a.bin", []byte("x")); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("в директории ожидался 1 файл, найдено: %v", names)
	}
}

// TestSave_Exists проверяет отказ при повторном сохранении.
func TestSave_Exists(t *testing.T) {
	fs, _ := New(t.TempDir())

	if _, err := fs.Save(testFileID, "a.bin", []byte("first")); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	_, err := fs.Save(testFileID, "a.bin", []byte("second"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("ожидался ErrExists, получено %v", err)
	}

	p, _ := fs.Path(testFileID, "a.bin")
	data, _ := os.ReadFile(p)
	if string(data) != "first" {
		t.Errorf("существующий файл перезаписан: %q", data)
	}
}

// TestSave_InvalidFileID проверяет проверку fileId.
func TestSave_InvalidFileID(t *testing.T) {
	fs, _ := New(t.TempDir())

	for _, id := range []string{"", "abc", "../00112233445566778899aabbccdd", strings.ToUpper(testFileID), testFileID + "0"} {
		if _, err := fs.Save(id, "a", []byte("x")); !errors.Is(err, ErrInvalidFileID) {
			t.Errorf("fileId %q: ожидался ErrInvalidFileID, получено %v", id, err)
		}
	}
}

// TestSave_TraversalStaysInDir проверяет, что имя с путём не выходит за каталог.
func TestSave_TraversalStaysInDir(t *testing.T) {
	dir := t.TempDir()
	fs, _ := New(dir)

	result, err := fs.Save(testFileID, "../../etc/passwd", []byte("x"))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}
	if filepath.Dir(result.FullPath) != dir {
		t.Errorf("файл записан вне каталога: %s", result.FullPath)
	}
	if result.Name != testFileID+"_passwd" {
		t.Errorf("имя файла = %s", result.Name)
	}
}

// TestDelete проверяет удаление и идемпотентность.
func TestDelete(t *testing.T) {
	fs, _ := New(t.TempDir())
	_, _ = fs.Save(testFileID, "a", []byte("x"))

	if err := fs.Delete(testFileID, "a"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if fs.Exists(testFileID, "a") {
		t.Error("файл не удалён")
	}
	if err := fs.Delete(testFileID, "a"); err != nil {
		t.Errorf("повторное удаление: %v", err)
	}
}

// TestSanitize проверяет очистку исходных имён.
func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"Отчёт 2024.pdf", "Отчёт 2024.pdf"},
		{"dir/sub/file.txt", "file.txt"},
		{`C:\Users\x\file.txt`, "file.txt"},
		{"../../secret", "secret"},
		{"", "fragment"},
		{".", "fragment"},
		{"..", "fragment"},
		{"  ", "fragment"},
		{"a\x00b\nc", "a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, ожидалось %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestSanitize_LongName проверяет обрезку длинного имени по границе руны.
func TestSanitize_LongName(t *testing.T) {
	got := Sanitize(strings.Repeat("ж", 150))
	if len(got) > maxNameLen {
		t.Errorf("длина %d больше %d", len(got), maxNameLen)
	}
	if !strings.HasPrefix(strings.Repeat("ж", 150), got) || len(got)%2 != 0 {
		t.Errorf("имя обрезано посреди руны: %q", got)
	}
}
