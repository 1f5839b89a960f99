package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/Gammanik/resumable-upload/internal/metastore"
	"github.com/Gammanik/resumable-upload/internal/storage"
	"github.com/Gammanik/resumable-upload/internal/upload"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	chunkReceivedMessage = "received file chunk"
	mergedMessage        = "file merged success"

	// multipartOverhead запас на поля формы сверх размера чанка
	multipartOverhead = 1 << 20
	// maxJSONBody ограничение тела /verify и /merge
	maxJSONBody = 64 << 10
)

// FileHandler обрабатывает запросы загрузки
type FileHandler struct {
	Receiver     *upload.Receiver
	Checker      *upload.StatusChecker
	Merger       *upload.Merger
	Layout       *storage.Layout
	Store        metastore.MetaStore
	Log          *zap.SugaredLogger
	MaxChunkSize int64
	// MaxMemory сколько байт формы держать в памяти, остальное уходит во временные файлы
	MaxMemory int64
}

// NewFileHandler создает обработчик поверх сервиса загрузки
func NewFileHandler(svc *upload.Service, store metastore.MetaStore, log *zap.SugaredLogger, maxChunkSize int64) *FileHandler {
	return &FileHandler{
		Receiver:     svc.Receiver,
		Checker:      svc.Checker,
		Merger:       svc.Merger,
		Layout:       svc.Layout,
		Store:        store,
		Log:          log,
		MaxChunkSize: maxChunkSize,
		MaxMemory:    8 << 20,
	}
}

type verifyRequest struct {
	FileHash string `json:"fileHash"`
	Filename string `json:"filename"`
}

type mergeRequest struct {
	FileHash string `json:"fileHash"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	FileSize *int64 `json:"fileSize,omitempty"`
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type pieceView struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Size  int64  `json:"size"`
}

// ReceiveChunk принимает один чанк (multipart: hash, fileHash, [index], chunk)
func (h *FileHandler) ReceiveChunk(w http.ResponseWriter, r *http.Request) {
	piece, form, err := h.parsePieceUpload(w, r)
	if form != nil {
		defer form.RemoveAll()
	}
	if err != nil {
		h.Log.Infow("receive", "status", "rejected", "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if c, ok := piece.Body.(io.Closer); ok {
		defer c.Close()
	}

	if _, err := h.Receiver.Receive(r.Context(), piece); err != nil {
		h.logError("receive", err, "fileHash", piece.FileHash, "piece", piece.Hash)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, chunkReceivedMessage)
}

// Verify сообщает, нужно ли загружать файл и какие чанки уже приняты
func (h *FileHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	status, err := h.Checker.Verify(r.Context(), req.FileHash, req.Filename)
	if err != nil {
		h.logError("verify", err, "fileHash", req.FileHash)
		h.writeError(w, err)
		return
	}

	if !status.ShouldUpload {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"shouldUpload": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shouldUpload": true,
		"uploadedList": status.UploadedList,
	})
}

// Merge собирает принятые чанки в файл root/fileHash.ext
func (h *FileHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.Merger.Merge(r.Context(), upload.MergeRequest{
		FileHash:  req.FileHash,
		Filename:  req.Filename,
		ChunkSize: req.Size,
		FileSize:  req.FileSize,
	})
	if err != nil {
		h.logError("merge", err, "fileHash", req.FileHash)
		h.writeError(w, err)
		return
	}

	h.Log.Infow("merge", "fileHash", req.FileHash, "file", res.MergedName, "alreadyMerged", res.AlreadyMerged)
	writeJSON(w, http.StatusOK, envelope{Code: 0, Message: mergedMessage})
}

// GetSessionInfo возвращает состояние сессии из реестра
func (h *FileHandler) GetSessionInfo(w http.ResponseWriter, r *http.Request) {
	fileHash := mux.Vars(r)["fileHash"]

	s, err := h.Store.GetSession(fileHash)
	if err != nil {
		if !errors.Is(err, metastore.ErrNotFound) {
			h.logError("session", err, "fileHash", fileHash)
		}
		h.writeError(w, err)
		return
	}

	pieces := make([]pieceView, 0, len(s.Pieces))
	for _, p := range s.SortedPieces() {
		pieces = append(pieces, pieceView{Name: p.Name, Index: p.Index, Size: p.Size})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fileHash":   s.FileHash,
		"state":      s.State,
		"pieces":     pieces,
		"mergedName": s.MergedName,
		"createdAt":  s.CreatedAt,
		"updatedAt":  s.UpdatedAt,
	})
}

// Status возвращает сводку по корню загрузок
func (h *FileHandler) Status(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Layout.Usage()
	if err != nil {
		h.logError("status", err)
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "online",
		"sessions":     usage.Sessions,
		"pieces":       usage.Pieces,
		"mergedFiles":  usage.MergedFiles,
		"totalSize":    usage.TotalSize,
		"freeSpace":    usage.FreeSpace,
		"maxChunkSize": h.MaxChunkSize,
	})
}

// Health проверка живости
func (h *FileHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// parsePieceUpload разбирает multipart тело. Форма возвращается и при ошибке,
// чтобы вызывающий удалил ее временные файлы.
func (h *FileHandler) parsePieceUpload(w http.ResponseWriter, r *http.Request) (upload.PieceUpload, *multipart.Form, error) {
	if h.MaxChunkSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxChunkSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(h.MaxMemory); err != nil {
		return upload.PieceUpload{}, r.MultipartForm, fmt.Errorf("%w: parse form: %v", upload.ErrMalformedRequest, err)
	}
	form := r.MultipartForm

	piece := upload.PieceUpload{
		FileHash: formValue(form, "fileHash"),
		Hash:     formValue(form, "hash"),
	}
	if piece.FileHash == "" || piece.Hash == "" {
		return upload.PieceUpload{}, form, fmt.Errorf("%w: fields hash and fileHash are required", upload.ErrMalformedRequest)
	}

	if v := formValue(form, "index"); v != "" {
		index, err := strconv.Atoi(v)
		if err != nil {
			return upload.PieceUpload{}, form, fmt.Errorf("%w: invalid index %q", upload.ErrMalformedRequest, v)
		}
		piece.Index = &index
	}

	files := form.File["chunk"]
	if len(files) == 0 {
		return upload.PieceUpload{}, form, fmt.Errorf("%w: file field chunk is required", upload.ErrMalformedRequest)
	}

	file, err := files[0].Open()
	if err != nil {
		return upload.PieceUpload{}, form, fmt.Errorf("%w: open chunk: %v", upload.ErrMalformedRequest, err)
	}
	piece.Body = file

	return piece, form, nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// decodeJSON читает JSON тело; ошибка разбора превращается в ErrMalformedRequest
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", upload.ErrMalformedRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError отвечает JSON конвертом {code, message}; code совпадает с HTTP статусом
func (h *FileHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, envelope{Code: status, Message: err.Error()})
}

func (h *FileHandler) logError(event string, err error, keysAndValues ...interface{}) {
	kv := append(keysAndValues, "error", err.Error())
	if statusFor(err) >= http.StatusInternalServerError {
		h.Log.Errorw(event, kv...)
		return
	}
	h.Log.Infow(event, kv...)
}

// statusFor сопоставляет ошибку HTTP статусу
func statusFor(err error) int {
	switch {
	case errors.Is(err, upload.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrSessionNotFound), errors.Is(err, metastore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrSessionSealed), errors.Is(err, metastore.ErrSealed):
		return http.StatusConflict
	case errors.Is(err, upload.ErrInconsistentMergeInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
