package storage

import (
	"errors"
	"testing"
)

func TestEncodeNilRecord(t *testing.T) {
	data, err := Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("Encode(nil): got %s", data)
	}
}

func TestDecodeNested(t *testing.T) {
	rec := Decode([]byte(`{"log_ip":"1.2.3.4","log_data":{"hits":[1,2,3],"first":{"t":17}}}`))
	inner, ok := rec[FieldLogData].(map[string]any)
	if !ok {
		t.Fatalf("log_data: got %T", rec[FieldLogData])
	}
	hits, ok := inner["hits"].([]any)
	if !ok || len(hits) != 3 || hits[2] != float64(3) {
		t.Errorf("hits: got %v", inner["hits"])
	}
	if inner["first"].(map[string]any)["t"] != float64(17) {
		t.Errorf("first.t: got %v", inner["first"])
	}
}

func TestDecodeMalformedIsEmpty(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"blank":     "  \n",
		"truncated": `{"a":`,
		"array":     `[1,2]`,
		"scalar":    `42`,
		"null":      `null`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Decode([]byte(in)); got == nil || len(got) != 0 {
				t.Errorf("Decode(%q): got %v, want empty record", in, got)
			}
			if _, err := decode([]byte(in)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("decode(%q) err = %v, want ErrCorrupt", in, err)
			}
		})
	}
}

func TestEnvelopeConventions(t *testing.T) {
	data := Record{"action": "deny"}

	rule := envelope(TableRule, "1.2.3.4", data)
	if rule[FieldLogIP] != "1.2.3.4" || rule["action"] != "deny" {
		t.Errorf("rule envelope: %v", rule)
	}
	if _, ok := data[FieldLogIP]; ok {
		t.Error("rule envelope must not mutate caller data")
	}

	filter := envelope(TableFilter, "1.2.3.4", data)
	if len(filter) != 2 || filter[FieldLogIP] != "1.2.3.4" {
		t.Errorf("filter envelope: %v", filter)
	}

	session := envelope(TableSession, "sid", data)
	if len(session) != 1 || session["action"] != "deny" {
		t.Errorf("session envelope: %v", session)
	}
}

func TestSessionStamp(t *testing.T) {
	cases := []struct {
		rec  Record
		want int64
	}{
		{Record{FieldMicroTime: float64(1700000000123456)}, 1700000000123456},
		{Record{FieldMicroTime: "1700000000123456"}, 1700000000123456},
		{Record{FieldMicroTime: "12.9"}, 12},
		{Record{FieldMicroTime: "soon"}, 0},
		{Record{}, 0},
	}
	for _, c := range cases {
		if got := sessionStamp(c.rec); got != c.want {
			t.Errorf("sessionStamp(%v): got %d, want %d", c.rec, got, c.want)
		}
	}
}
