package hoststate

import "testing"

func TestGetRequired_AllPresent(t *testing.T) {
	h := &Host{Name: "sw1"}
	h.State.PrimaryImage = String("cat9k_iosxe.17.06.02.SPA.bin")
	h.State.CurrentImage = String("cat9k_iosxe.16.12.04.SPA.bin")

	values, ok := GetRequired(h, FieldPrimaryImage, FieldCurrentImage)
	if !ok {
		t.Fatal("expected ok for host with both fields set")
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0].(string) != "cat9k_iosxe.17.06.02.SPA.bin" {
		t.Errorf("unexpected primary image: %v", values[0])
	}
	if values[1].(string) != "cat9k_iosxe.16.12.04.SPA.bin" {
		t.Errorf("unexpected current image: %v", values[1])
	}
}

func TestGetRequired_MissingField(t *testing.T) {
	h := &Host{Name: "sw1"}
	h.State.PrimaryImage = String("cat9k_iosxe.17.06.02.SPA.bin")

	_, ok := GetRequired(h, FieldPrimaryImage, FieldCurrentImage)
	if ok {
		t.Error("expected failure when current_image is missing")
	}
}

func TestGetRequired_InvalidValue(t *testing.T) {
	h := &Host{Name: "sw1"}
	h.State.PrimaryImage = String("   ")

	_, ok := GetRequired(h, FieldPrimaryImage)
	if ok {
		t.Error("expected failure for blank primary_image")
	}
}

func TestGetRequired_StackInfo(t *testing.T) {
	h := &Host{Name: "sw1"}
	h.State.StackInfo = &StackInfo{IsStack: true, Members: []string{"1", "2"}, Master: "1"}

	values, ok := GetRequired(h, FieldStackInfo)
	if !ok {
		t.Fatal("expected ok for valid stack info")
	}
	si := values[0].(*StackInfo)
	if si.Master != "1" {
		t.Errorf("unexpected master: %s", si.Master)
	}
}

func TestValidate_CatalogueLookup(t *testing.T) {
	tests := []struct {
		field string
		value any
		want  bool
	}{
		{"auth_status", true, true},
		{"auth_status", "yes", false},
		{"primary_image", "c2960-lanbasek9-mz.152-4.E6.bin", true},
		{"primary_image", "", false},
		{"primary_image_size", int64(52428800), true},
		{"primary_image_size", int64(-1), false},
		{"images_to_delete", []string{"old.bin"}, true},
		{"unknown_field", true, false},
	}
	for _, tt := range tests {
		if got := Validate(tt.field, tt.value); got != tt.want {
			t.Errorf("Validate(%q, %v) = %v, want %v", tt.field, tt.value, got, tt.want)
		}
	}
}

func TestStackInfo_Invariants(t *testing.T) {
	tests := []struct {
		name string
		si   StackInfo
		want bool
	}{
		{"standalone", StackInfo{IsStack: false}, true},
		{"stack with master in members", StackInfo{IsStack: true, Members: []string{"1", "2"}, Master: "2"}, true},
		{"stack with no members", StackInfo{IsStack: true}, false},
		{"master not a member", StackInfo{IsStack: true, Members: []string{"1", "2"}, Master: "3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.si.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSchema_UnknownKeysIgnored(t *testing.T) {
	attrs := map[string]any{
		"id":         7,
		"model":      "C9300-48P",
		"slug":       "c9300-48p",
		"new_export": map[string]any{"anything": true},
	}
	if !DeviceTypeSchema.Validate(attrs) {
		t.Error("unknown keys must not fail validation")
	}

	attrs["model"] = ""
	if DeviceTypeSchema.Validate(attrs) {
		t.Error("blank model must fail validation")
	}
}

func TestSchema_NestedValidation(t *testing.T) {
	attrs := map[string]any{
		"model": "C9300-48P",
		"manufacturer": map[string]any{
			"id":   0,
			"name": "Cisco",
		},
	}
	if DeviceTypeSchema.Validate(attrs) {
		t.Error("nested manufacturer with id 0 must fail validation")
	}
}

func TestHost_AttrDottedPath(t *testing.T) {
	h := &Host{
		Name: "sw1",
		Attrs: map[string]any{
			"device_type": map[string]any{
				"model": "WS-C2960X-48TS-L",
				"manufacturer": map[string]any{
					"slug": "cisco",
				},
			},
		},
	}
	if got := h.Model(); got != "WS-C2960X-48TS-L" {
		t.Errorf("Model() = %q", got)
	}
	if got := h.AttrString("device_type.manufacturer.slug"); got != "cisco" {
		t.Errorf("AttrString deep path = %q", got)
	}
	if _, ok := h.Attr("device_type.missing"); ok {
		t.Error("missing attr must report not found")
	}
}
