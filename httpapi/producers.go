package httpapi

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wapikit/wapikit-sub000/internal/logx"
	"github.com/wapikit/wapikit-sub000/ndjson"
	"github.com/wapikit/wapikit-sub000/schema"
)

const importBatchSize = 25

type chatRequest struct {
	Message string `json:"message"`
}

// recordStream paces NDJSON records onto a response.
type recordStream struct {
	ctx     context.Context
	limiter *rate.Limiter
	out     *ndjson.Writer
}

func (s *Server) startRecords(w http.ResponseWriter, r *http.Request) *recordStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return &recordStream{
		ctx:     r.Context(),
		limiter: rate.NewLimiter(s.pace, 1),
		out:     ndjson.NewWriter(w),
	}
}

func (rs *recordStream) emit(record any) error {
	if err := rs.limiter.Wait(rs.ctx); err != nil {
		return err
	}
	return rs.out.Write(record)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.Ctx(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	listIDs := r.MultipartForm.Value["listIds"]
	if len(listIDs) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("at least one listIds value is required"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file: %w", err))
		return
	}
	defer file.Close()
	log = logx.WithStream(log, "import", header.Filename)

	rows, parseErr := readContacts(file)
	stream := s.startRecords(w, r)
	if err := stream.emit(schema.ImportRecord{
		Type:    schema.RecordImporting,
		Message: fmt.Sprintf("importing %d contacts into %d lists", len(rows), len(listIDs)),
		Total:   len(rows),
	}); err != nil {
		return
	}
	if parseErr != nil {
		log.Warn("http import rejected", "err", parseErr)
		_ = stream.emit(schema.ImportRecord{Type: schema.RecordError, Message: parseErr.Error()})
		return
	}

	imported, skipped := 0, 0
	for i, row := range rows {
		if row.phone == "" {
			skipped++
		} else {
			imported++
		}
		current := i + 1
		if current%importBatchSize != 0 && current != len(rows) {
			continue
		}
		if err := stream.emit(schema.ImportRecord{
			Type:     schema.RecordProgress,
			Current:  current,
			Total:    len(rows),
			Imported: imported,
			Skipped:  skipped,
		}); err != nil {
			log.Debug("http import aborted", "current", current, "err", err)
			return
		}
	}
	_ = stream.emit(schema.ImportRecord{
		Type:     schema.RecordComplete,
		Message:  "import complete",
		Total:    len(rows),
		Imported: imported,
		Skipped:  skipped,
	})
	log.Info("http import complete", "user", userID, "total", len(rows), "imported", imported, "skipped", skipped)
}

type contactRow struct {
	name  string
	phone string
}

// readContacts parses a contacts CSV. A header row naming a phone column is
// honored; otherwise the first two columns are name and phone.
func readContacts(r io.Reader) ([]contactRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	nameCol, phoneCol := 0, 1
	if len(records) > 0 {
		header := false
		for i, title := range records[0] {
			switch strings.ToLower(strings.TrimSpace(title)) {
			case "name":
				nameCol = i
			case "phone", "phone_number", "phonenumber":
				phoneCol = i
				header = true
			}
		}
		if header {
			records = records[1:]
		}
	}
	rows := make([]contactRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, contactRow{name: cell(record, nameCol), phone: cell(record, phoneCol)})
	}
	return rows, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	chatID := r.PathValue("id")
	var req chatRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxPublishBytes), &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	log := logx.WithStream(logx.Ctx(r.Context()), "chat", chatID)

	stream := s.startRecords(w, r)
	if err := stream.emit(schema.ChatRecord{
		Type:               schema.RecordMessageDetails,
		UserMessageID:      uuid.NewString(),
		AssistantMessageID: uuid.NewString(),
	}); err != nil {
		return
	}
	words := strings.Fields(chatReply(req.Message))
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		if err := stream.emit(schema.ChatRecord{Type: schema.RecordTextDelta, TextDelta: word}); err != nil {
			log.Debug("http chat aborted", "delta", i, "err", err)
			return
		}
	}
	_ = stream.emit(schema.ChatRecord{Type: schema.RecordFinish, FinishReason: "stop"})
	log.Info("http chat replied", "user", userID, "deltas", len(words))
}

func chatReply(message string) string {
	return "You asked: " + strings.Join(strings.Fields(message), " ")
}
