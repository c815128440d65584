// Пакет filestore — хранение фрагментов на диске агента провайдера.
// Запись атомарная: temp файл → запись + SHA-256 → fsync → rename.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// fallbackName — имя для пустых и служебных исходных имён.
const fallbackName = "fragment"

// maxNameLen — предел длины исходного имени в байтах.
const maxNameLen = 200

var (
	// ErrExists — фрагмент с таким fileId и именем уже сохранён.
	ErrExists = errors.New("фрагмент уже существует")
	// ErrInvalidFileID — fileId не из 32 hex-символов.
	ErrInvalidFileID = errors.New("fileId должен состоять из 32 hex-символов")
)

var fileIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// FileStore — каталог фрагментов.
type FileStore struct {
	// dataDir — корневая директория хранения (PA_STORAGE_DIR)
	dataDir string
}

// SaveResult — результат сохранения фрагмента.
type SaveResult struct {
	// Name — имя файла в dataDir
	Name string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// Save записывает фрагмент как {fileId}_{имя}.
// Существующий файл не перезаписывается (ErrExists). При ошибке temp файл удаляется.
func (fs *FileStore) Save(fileID, originalName string, data []byte) (*SaveResult, error) {
	fullPath, err := fs.Path(fileID, originalName)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(fullPath)

	if _, err := os.Lstat(fullPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	f, err := os.CreateTemp(fs.dataDir, "."+fileID+"-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Link не заменяет существующий файл, в отличие от Rename
	if err := os.Link(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, fmt.Errorf("ошибка публикации файла: %w", err)
	}
	os.Remove(tmpPath)

	sum := sha256.Sum256(data)
	return &SaveResult{
		Name:     name,
		FullPath: fullPath,
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// Path возвращает абсолютный путь фрагмента.
func (fs *FileStore) Path(fileID, originalName string) (string, error) {
	name, err := StorageName(fileID, originalName)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.dataDir, name), nil
}

// Exists проверяет, сохранён ли фрагмент.
func (fs *FileStore) Exists(fileID, originalName string) bool {
	p, err := fs.Path(fileID, originalName)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete удаляет фрагмент. Возвращает nil, если файла уже нет.
func (fs *FileStore) Delete(fileID, originalName string) error {
	p, err := fs.Path(fileID, originalName)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", p, err)
	}
	return nil
}

// StorageName возвращает имя файла фрагмента: {fileId}_{sanitize(originalName)}.
func StorageName(fileID, originalName string) (string, error) {
	if !fileIDPattern.MatchString(fileID) {
		return "", ErrInvalidFileID
	}
	return fileID + "_" + Sanitize(originalName), nil
}

// Sanitize приводит исходное имя к безопасной base name.
// Разделители путей и управляющие символы заменяются на '_'.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	name = strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if len(name) > maxNameLen {
		name = truncateUTF8(name, maxNameLen)
	}
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}

// truncateUTF8 обрезает строку до n байт, не разрывая руны.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
