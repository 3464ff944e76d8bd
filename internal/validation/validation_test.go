package validation

import (
	"strings"
	"testing"

	"github.com/hyperengineering/ripple/internal/types"
)

func fields(errs []ValidationError) map[string]string {
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field] = e.Message
	}
	return out
}

// --- Field validators ---

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("f", "Hello, 世界"); err != nil {
		t.Errorf("ValidateUTF8(valid) = %v, want nil", err)
	}
	err := ValidateUTF8("subject.id", string([]byte{0xff, 0xfe}))
	if err == nil || err.Field != "subject.id" {
		t.Errorf("ValidateUTF8(invalid) = %v, want error on subject.id", err)
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("f", "Order"); err != nil {
		t.Errorf("ValidateNoNullBytes(clean) = %v, want nil", err)
	}
	if err := ValidateNoNullBytes("f", "Ord\x00er"); err == nil {
		t.Error("ValidateNoNullBytes(with null) = nil, want error")
	}
}

func TestValidateMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"within", "abc", 5, false},
		{"at limit", "abcde", 5, false},
		{"exceeds", "abcdef", 5, true},
		{"multibyte at limit", "世界世界世", 5, false},
		{"multibyte exceeds", "世界世界世界", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxLength("f", tt.value, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxLength(%q, %d) = %v, wantErr %v", tt.value, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("f", "x"); err != nil {
		t.Errorf("ValidateRequired(non-empty) = %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("f", v); err == nil || err.Message != "is required" {
			t.Errorf("ValidateRequired(%q) = %v, want is required", v, err)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"INDEX", "DELETE"}
	if err := ValidateEnum("op", "DELETE", allowed); err != nil {
		t.Errorf("ValidateEnum(DELETE) = %v", err)
	}
	err := ValidateEnum("op", "index", allowed)
	if err == nil {
		t.Fatal("ValidateEnum is case-insensitive, want case-sensitive")
	}
	if !strings.Contains(err.Message, "INDEX, DELETE") {
		t.Errorf("message = %q, want allowed values listed", err.Message)
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	if c.HasErrors() {
		t.Error("empty collector reports errors")
	}

	c.Add(nil)
	c.Add(&ValidationError{Field: "a", Message: "bad"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "b", Message: "worse"})

	if !c.HasErrors() || len(c.Errors()) != 2 {
		t.Errorf("errors = %v, want 2", c.Errors())
	}
	if c.Errors()[0].Field != "a" || c.Errors()[1].Field != "b" {
		t.Errorf("errors out of order: %v", c.Errors())
	}
}

// --- Change sets ---

func TestValidateChanges_Valid(t *testing.T) {
	changes := []types.EntityChange{
		{Subject: types.Ref("Order", "1"), Kind: types.ChangeCreated, Properties: []types.PropertyChange{
			{Property: "number", New: "A-1"},
			{Property: "lines", New: []types.EntityRef{types.Ref("OrderLine", "7")}},
		}},
		{Subject: types.Ref("OrderLine", "7"), Kind: types.ChangeUpdated, Properties: []types.PropertyChange{
			{Property: "orderId", Old: types.Ref("Order", "2"), New: types.Ref("Order", "1")},
		}},
		{Subject: types.Ref("Order", "2"), Kind: types.ChangeDeleted},
	}

	if errs := ValidateChanges(changes); len(errs) != 0 {
		t.Errorf("ValidateChanges() = %v, want none", errs)
	}
}

func TestValidateChanges_Empty(t *testing.T) {
	if errs := ValidateChanges(nil); len(errs) != 0 {
		t.Errorf("ValidateChanges(nil) = %v, want none", errs)
	}
}

func TestValidateChanges_ReportsEveryField(t *testing.T) {
	changes := []types.EntityChange{
		{Subject: types.Ref("", "1"), Kind: "TOUCHED"},
		{Subject: types.Ref("Order#x", ""), Kind: types.ChangeUpdated, Properties: []types.PropertyChange{
			{Property: "number", New: "A"},
			{Property: "number", New: "B"},
			{Property: "orderId", New: types.Ref("Order", "")},
			{Property: "lines", Old: []types.EntityRef{types.Ref("", "3")}},
		}},
	}

	got := fields(ValidateChanges(changes))

	want := []string{
		"changes[0].subject.type",
		"changes[0].kind",
		"changes[1].subject.type",
		"changes[1].subject.id",
		"changes[1].properties[1].property",
		"changes[1].properties[2].new.id",
		"changes[1].properties[3].old[0].type",
	}
	for _, f := range want {
		if _, ok := got[f]; !ok {
			t.Errorf("missing error for %s (got %v)", f, got)
		}
	}
	if _, ok := got["changes[0].subject.id"]; ok {
		t.Error("valid id reported as invalid")
	}
	if got["changes[1].properties[1].property"] != "is recorded more than once" {
		t.Errorf("duplicate property message = %q", got["changes[1].properties[1].property"])
	}
}

func TestValidateChanges_TooMany(t *testing.T) {
	changes := make([]types.EntityChange, MaxChangesPerCommit+1)

	errs := ValidateChanges(changes)

	if len(errs) != 1 || errs[0].Field != "changes" {
		t.Errorf("ValidateChanges() = %v, want single size error", errs)
	}
}

// --- Queue items ---

func TestValidateQueueItems(t *testing.T) {
	items := []types.QueueItem{
		{Root: types.Ref("Order", "1"), Operation: types.OpIndex},
		{Root: types.Ref("Order", ""), Operation: "PURGE"},
	}

	got := fields(ValidateQueueItems(items))

	if len(got) != 2 {
		t.Fatalf("errors = %v, want 2", got)
	}
	if _, ok := got["items[1].root.id"]; !ok {
		t.Errorf("missing items[1].root.id in %v", got)
	}
	if _, ok := got["items[1].operation"]; !ok {
		t.Errorf("missing items[1].operation in %v", got)
	}
}

func TestValidateQueueItems_TooMany(t *testing.T) {
	errs := ValidateQueueItems(make([]types.QueueItem, MaxItemsPerRequeue+1))
	if len(errs) != 1 || errs[0].Field != "items" {
		t.Errorf("ValidateQueueItems() = %v, want single size error", errs)
	}
}
