package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/wapikit/wapikit-sub000/schema"
)

// ImportPath is the bulk contact import endpoint.
const ImportPath = "/api/contacts/bulk-import"

// ImportRequest describes a bulk contact import upload.
type ImportRequest struct {
	ListIDs  []string
	File     io.Reader
	FileName string
}

// ImportResult summarizes a completed import.
type ImportResult struct {
	Imported int
	Skipped  int
	Total    int
	Message  string
}

// ImportContacts uploads a contacts file and reports progress records to fn
// until the server sends the terminal complete record.
func (c *Client) ImportContacts(ctx context.Context, in ImportRequest, fn func(schema.ImportRecord)) (ImportResult, error) {
	if in.File == nil {
		return ImportResult{}, errors.New("apiclient: import file is required")
	}
	fileName := in.FileName
	if fileName == "" {
		fileName = "contacts.csv"
	}
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeImportForm(form, in, fileName))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(ImportPath), pr)
	if err != nil {
		return ImportResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var (
		result   ImportResult
		complete bool
	)
	err = c.stream(req, "import", fileName, func(recordType schema.RecordType, raw json.RawMessage) error {
		switch recordType {
		case schema.RecordImporting, schema.RecordProgress:
			var record schema.ImportRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode %s record: %w", recordType, err)
			}
			if fn != nil {
				fn(record)
			}
		case schema.RecordComplete:
			var record schema.ImportRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return fmt.Errorf("decode complete record: %w", err)
			}
			result = ImportResult{Imported: record.Imported, Skipped: record.Skipped, Total: record.Total, Message: record.Message}
			complete = true
			return errStreamDone
		default:
			c.log.Debug("import record ignored", "type", recordType)
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	if !complete {
		return ImportResult{}, ErrIncompleteStream
	}
	return result, nil
}

func writeImportForm(form *multipart.Writer, in ImportRequest, fileName string) error {
	for _, id := range in.ListIDs {
		if err := form.WriteField("listIds", id); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, in.File); err != nil {
		return err
	}
	return form.Close()
}
