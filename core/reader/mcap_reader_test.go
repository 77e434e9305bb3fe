package reader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/valyala/fastjson"

	"telemetry-pipeline/core/models"
)

func decodeJSON(t *testing.T, logTime uint64, payload string) []models.LogRecord {
	t.Helper()
	var parser fastjson.Parser
	var records []models.LogRecord
	msg := &mcap.Message{LogTime: logTime, Data: []byte(payload)}
	err := emitJSONFields(&parser, msg, func(rec models.LogRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("emitJSONFields: %v", err)
	}
	return records
}

func TestEmitJSONFields(t *testing.T) {
	records := decodeJSON(t, 42, `{"speed": 12.5, "gear": 3, "label": "lap1", "armed": true, "spare": null}`)

	if len(records) != 5 {
		t.Fatalf("record count = %d, want one per top-level field", len(records))
	}
	byChannel := make(map[string]models.LogRecord)
	for _, rec := range records {
		if rec.Timestamp != 42 {
			t.Errorf("record %s timestamp = %d, want 42", rec.Channel, rec.Timestamp)
		}
		byChannel[rec.Channel] = rec
	}

	if v := byChannel["speed"].Value; v.Kind != models.ValueFloat || v.Float != 12.5 {
		t.Errorf("speed = %+v", v)
	}
	if v := byChannel["gear"].Value; v.Kind != models.ValueFloat || v.Float != 3 {
		t.Errorf("gear = %+v", v)
	}
	if v := byChannel["label"].Value; v.Kind != models.ValueText || v.Text != "lap1" {
		t.Errorf("label = %+v", v)
	}
	if v := byChannel["armed"].Value; v.Kind != models.ValueBool || !v.Bool {
		t.Errorf("armed = %+v", v)
	}
	if v := byChannel["spare"].Value; v.Kind != models.ValueText || v.Text != "" {
		t.Errorf("null field = %+v, want empty text", v)
	}
}

func TestEmitJSONFieldsArrayAndObject(t *testing.T) {
	records := decodeJSON(t, 1, `{"accel": [0.1, 0.2, 0.3], "meta": {"v": 1}}`)

	byChannel := make(map[string]models.Value)
	for _, rec := range records {
		byChannel[rec.Channel] = rec.Value
	}

	accel := byChannel["accel"]
	if accel.Kind != models.ValueList || len(accel.List) != 3 {
		t.Fatalf("accel = %+v", accel)
	}
	if accel.List[1].Kind != models.ValueFloat || accel.List[1].Float != 0.2 {
		t.Errorf("accel[1] = %+v", accel.List[1])
	}

	meta := byChannel["meta"]
	if meta.Kind != models.ValueText || meta.Text != `{"v":1}` {
		t.Errorf("nested object = %+v, want raw json text", meta)
	}
}

func TestEmitJSONFieldsMalformed(t *testing.T) {
	var parser fastjson.Parser
	msg := &mcap.Message{Data: []byte(`{"broken":`)}
	if err := emitJSONFields(&parser, msg, func(models.LogRecord) error { return nil }); err == nil {
		t.Error("expected error for malformed payload")
	}

	msg = &mcap.Message{Data: []byte(`[1, 2, 3]`)}
	if err := emitJSONFields(&parser, msg, func(models.LogRecord) error { return nil }); err == nil {
		t.Error("expected error for non-object payload")
	}
}

func TestEmitJSONFieldsStopsOnCallbackError(t *testing.T) {
	var parser fastjson.Parser
	msg := &mcap.Message{Data: []byte(`{"a": 1, "b": 2, "c": 3}`)}

	calls := 0
	sentinel := errors.New("stop")
	err := emitJSONFields(&parser, msg, func(models.LogRecord) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times after error, want 1", calls)
	}
}

func TestSummaryMissingFile(t *testing.T) {
	r := NewMCAPReader()
	if _, err := r.Summary(filepath.Join(t.TempDir(), "absent.mcap")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSummaryNotAnMCAPFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.mcap")
	if err := os.WriteFile(path, []byte("not an mcap file"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewMCAPReader()
	if _, err := r.Summary(path); err == nil {
		t.Error("expected error for non-mcap content")
	}
	if err := r.Records(path, "", func(models.LogRecord) error { return nil }); err == nil {
		t.Error("expected error for non-mcap content")
	}
}
