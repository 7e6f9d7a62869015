package ndjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"pgregory.net/rapid"
)

type chunkReader struct {
	data  []byte
	sizes []int
	next  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[r.next%len(r.sizes)]
	r.next++
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func collect(r io.Reader, opts ...Option) ([]string, error) {
	var out []string
	err := Decode(context.Background(), r, func(record json.RawMessage) error {
		out = append(out, string(record))
		return nil
	}, opts...)
	return out, err
}

func TestDecodeSingleChunk(t *testing.T) {
	records, err := collect(strings.NewReader(`{"type":"a"}`+"\n"+`{"type":"b"}`+"\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 || records[0] != `{"type":"a"}` || records[1] != `{"type":"b"}` {
		t.Fatalf("unexpected records: %q", records)
	}
}

func TestDecodeOneByteReads(t *testing.T) {
	input := `{"type":"a"}` + "\n" + `{"type":"b"}` + "\n"
	records, err := collect(iotest.OneByteReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 || records[0] != `{"type":"a"}` || records[1] != `{"type":"b"}` {
		t.Fatalf("unexpected records: %q", records)
	}
}

func TestDecodeSplitsInsideMultibyteCharacter(t *testing.T) {
	first := `{"type":"text-delta","textDelta":"héllo 🌍"}`
	input := []byte(first + "\n" + `{"type":"finish"}` + "\n")
	globe := bytes.Index(input, []byte("🌍"))
	if globe < 0 {
		t.Fatalf("fixture missing multibyte rune")
	}
	// Split after the first two bytes of the four byte rune.
	reader := &chunkReader{data: input, sizes: []int{globe + 2, 3, len(input)}}
	records, err := collect(reader)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 || records[0] != first {
		t.Fatalf("unexpected records: %q", records)
	}
	var rec struct {
		TextDelta string `json:"textDelta"`
	}
	if err := json.Unmarshal([]byte(records[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.TextDelta != "héllo 🌍" {
		t.Fatalf("unexpected text: %q", rec.TextDelta)
	}
}

func TestDecodeChunkBoundaryIndependence(t *testing.T) {
	input := []byte(`{"type":"a","text":"ünïcødé ✓"}` + "\n" + `{"type":"b"}` + "\n" + `{"type":"c","n":[1,2,3]}` + "\n")
	want := []string{`{"type":"a","text":"ünïcødé ✓"}`, `{"type":"b"}`, `{"type":"c","n":[1,2,3]}`}
	rapid.Check(t, func(rt *rapid.T) {
		sizes := rapid.SliceOfN(rapid.IntRange(1, 9), 1, 32).Draw(rt, "sizes")
		readSize := rapid.IntRange(1, 64).Draw(rt, "readSize")
		reader := &chunkReader{data: append([]byte(nil), input...), sizes: sizes}
		got, err := collect(reader, WithReadSize(readSize))
		if err != nil {
			rt.Fatalf("Decode: %v", err)
		}
		if len(got) != len(want) {
			rt.Fatalf("expected %d records, got %q", len(want), got)
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("record %d: got %q want %q", i, got[i], want[i])
			}
		}
	})
}

func TestDecodeDropsTrailingPartialRecord(t *testing.T) {
	records, err := collect(strings.NewReader(`{"type":"a"}`+"\n"+`{"type":"b"`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 1 || records[0] != `{"type":"a"}` {
		t.Fatalf("unexpected records: %q", records)
	}
}

func TestDecodeFlushTrailingRecord(t *testing.T) {
	records, err := collect(strings.NewReader(`{"type":"a"}`+"\n"+`{"type":"b"}`), WithFlushTrailing(true))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 || records[1] != `{"type":"b"}` {
		t.Fatalf("unexpected records: %q", records)
	}

	_, err = collect(strings.NewReader(`{"type":"a"}`+"\n"+`{"type":"b"`), WithFlushTrailing(true))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected decode error for truncated trailing record, got %v", err)
	}
}

func TestDecodeMalformedRecordIsFatal(t *testing.T) {
	input := `{"type":"a"}` + "\n" + `{"type":` + "\n" + `{"type":"c"}` + "\n"
	records, err := collect(strings.NewReader(input))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Record != 2 {
		t.Fatalf("expected record 2, got %d", decodeErr.Record)
	}
	if string(decodeErr.Line()) != `{"type":` {
		t.Fatalf("unexpected line: %q", decodeErr.Line())
	}
	if len(records) != 1 {
		t.Fatalf("expected decoding to stop after the bad record, got %q", records)
	}
}

func TestDecodeSkipsBlankLinesAndCRLF(t *testing.T) {
	input := "\r\n" + `{"type":"a"}` + "\r\n\n  \n" + `{"type":"b"}` + "\r\n"
	records, err := collect(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 || records[0] != `{"type":"a"}` || records[1] != `{"type":"b"}` {
		t.Fatalf("unexpected records: %q", records)
	}
}

func TestDecodeRecordTooLarge(t *testing.T) {
	input := `{"a":1}` + "\n" + `{"type":"` + strings.Repeat("x", 64) + `"}` + "\n" + `{"a":2}` + "\n"
	for _, size := range []int{1, 4, 7, 16, 64, 4096} {
		records, err := collect(strings.NewReader(input), WithMaxRecordBytes(16), WithReadSize(size))
		if !errors.Is(err, ErrRecordTooLarge) {
			t.Fatalf("read size %d: expected ErrRecordTooLarge, got %v", size, err)
		}
		if len(records) != 1 || records[0] != `{"a":1}` {
			t.Fatalf("read size %d: expected only the record before the oversized one, got %q", size, records)
		}
	}
}

func TestDecodeRecordAtLimitPasses(t *testing.T) {
	record := `{"k":"` + strings.Repeat("y", 10) + `"}`
	for _, size := range []int{1, 3, len(record) + 1, 4096} {
		records, err := collect(strings.NewReader(record+"\n"), WithMaxRecordBytes(len(record)), WithReadSize(size))
		if err != nil || len(records) != 1 {
			t.Fatalf("read size %d: expected one record, got %q (err %v)", size, records, err)
		}
	}
}

func TestDecodeHandlerErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Decode(context.Background(), strings.NewReader(`{"a":1}`+"\n"+`{"a":2}`+"\n"), func(json.RawMessage) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestDecodeReaderErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	reader := io.MultiReader(strings.NewReader(`{"type":"a"}`+"\n"), iotest.ErrReader(boom))
	records, err := collect(reader)
	if !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected records read before the error, got %q", records)
	}
}

func TestDecodeHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Decode(ctx, strings.NewReader(`{"type":"a"}`+"\n"), func(json.RawMessage) error {
		t.Fatalf("handler must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecoderNextAndRecords(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"a":1}` + "\n" + `{"a":2}` + "\n"))
	for i := 0; i < 2; i++ {
		if _, err := dec.Next(context.Background()); err != nil {
			t.Fatalf("Next(%d): %v", i, err)
		}
	}
	if _, err := dec.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if _, err := dec.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF to be sticky, got %v", err)
	}
	if dec.Records() != 2 {
		t.Fatalf("expected 2 records, got %d", dec.Records())
	}
}

func TestWriterEmitsOneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Write(map[string]any{"type": "progress", "current": 1, "total": 2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(map[string]any{"type": "complete"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("expected two lines, got %d in %q", got, buf.String())
	}
	records, err := collect(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("unexpected records: %q", records)
	}
}
