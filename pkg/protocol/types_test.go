package protocol

import (
	"encoding/json"
	"testing"
)

func TestCallReportOmitsEmpty(t *testing.T) {
	report := CallReport{Binding: "geometry", Instance: "inst-1", Symbol: "add", Args: []any{1, 2}, Result: 3}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}

	want := `{"binding":"geometry","instance":"inst-1","symbol":"add","args":[1,2],"result":3,"durationMicros":0}`
	if string(data) != want {
		t.Errorf("Marshal mismatch:\n got %s\nwant %s", data, want)
	}
}

func TestErrorReport(t *testing.T) {
	report := CallReport{
		Symbol: "sumXY",
		Args:   []any{},
		Error:  &ErrorReport{Code: "out_of_memory", Step: "allocate", Path: "arg0.text", Message: "boom"},
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if _, ok := decoded["result"]; ok {
		t.Error("result should be omitted for failed calls")
	}

	errObj, ok := decoded["error"].(map[string]any)
	if !ok {
		t.Fatalf("error missing: %s", data)
	}
	if errObj["code"] != "out_of_memory" || errObj["path"] != "arg0.text" {
		t.Errorf("Unexpected error report: %v", errObj)
	}
}

func TestFieldReport(t *testing.T) {
	f := FieldReport{Name: "text", Type: "string", Offset: 4, Size: 8}
	if f.Offset != 4 {
		t.Errorf("Offset mismatch: got %d, want %d", f.Offset, 4)
	}
	if f.Size != 8 {
		t.Errorf("Size mismatch: got %d, want %d", f.Size, 8)
	}
}
