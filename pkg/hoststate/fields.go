package hoststate

import (
	"log/slog"
	"strings"
)

// Category separates fields written by workflow steps from fields sourced
// from the inventory service.
type Category string

const (
	CategoryCustom    Category = "custom"
	CategoryInventory Category = "inventory"
)

// Kind is the expected Go type of a field value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindStringList
	KindStack
)

// Field is one entry of the static field catalogue: a name, an expected
// type, optional extra validators and a category. The catalogue is built once
// at startup and never mutated; per-host values live in State.
type Field struct {
	Name       string
	Kind       Kind
	Category   Category
	Validators []func(any) bool

	get func(*State) (any, bool)
}

// Validate reports whether a value matches the field's declared type and
// passes all of its validators.
func (f Field) Validate(value any) bool {
	switch f.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return false
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return false
		}
	case KindInt:
		switch value.(type) {
		case int, int64:
		default:
			return false
		}
	case KindStringList:
		if _, ok := value.([]string); !ok {
			return false
		}
	case KindStack:
		si, ok := value.(*StackInfo)
		if !ok || !si.Valid() {
			return false
		}
	}
	for _, v := range f.Validators {
		if !v(value) {
			return false
		}
	}
	return true
}

func (f Field) String() string { return f.Name }

func custom(name string, kind Kind, get func(*State) (any, bool), validators ...func(any) bool) Field {
	return Field{Name: name, Kind: kind, Category: CategoryCustom, Validators: validators, get: get}
}

func boolField(name string, p func(*State) *bool) Field {
	return custom(name, KindBool, func(s *State) (any, bool) {
		if v := p(s); v != nil {
			return *v, true
		}
		return nil, false
	})
}

func stringField(name string, p func(*State) *string, validators ...func(any) bool) Field {
	return custom(name, KindString, func(s *State) (any, bool) {
		if v := p(s); v != nil {
			return *v, true
		}
		return nil, false
	}, validators...)
}

// The field catalogue. Declared statically so lookups are plain table reads,
// not reflection.
var (
	FieldAuthStatus = boolField("auth_status", func(s *State) *bool { return s.AuthStatus })
	FieldConnectionError = stringField("connection_error",
		func(s *State) *string { return s.ConnectionError }, NotEmptyString)
	FieldHostnameVerified = boolField("hostname_verified", func(s *State) *bool { return s.HostnameVerified })
	FieldDNSIP            = stringField("dns_ip", func(s *State) *string { return s.DNSIP }, NotEmptyString)

	FieldStackInfo = custom("stack_info", KindStack, func(s *State) (any, bool) {
		if s.StackInfo != nil {
			return s.StackInfo, true
		}
		return nil, false
	})

	FieldCurrentImage = stringField("current_image",
		func(s *State) *string { return s.CurrentImage }, NotEmptyString)
	FieldOSVersion = stringField("os_version",
		func(s *State) *string { return s.OSVersion }, NotEmptyString)
	FieldIsAtTarget   = boolField("is_at_target", func(s *State) *bool { return s.IsAtTarget })
	FieldPrimaryImage = stringField("primary_image",
		func(s *State) *string { return s.PrimaryImage }, NotEmptyString)
	FieldPrimaryImageMD5 = stringField("primary_image_md5",
		func(s *State) *string { return s.PrimaryImageMD5 }, NotEmptyString)
	FieldPrimaryImageSize = custom("primary_image_size", KindInt, func(s *State) (any, bool) {
		if s.PrimaryImageSize != nil {
			return *s.PrimaryImageSize, true
		}
		return nil, false
	}, PositiveInt)
	FieldPrimaryImageInFlash = boolField("primary_image_in_flash",
		func(s *State) *bool { return s.PrimaryImageInFlash })
	FieldPrimaryImageMD5Verified = boolField("primary_image_md5_verified",
		func(s *State) *bool { return s.PrimaryImageMD5Verified })
	FieldFlashSpaceAvailable = boolField("flash_space_available",
		func(s *State) *bool { return s.FlashSpaceAvailable })

	FieldImagesToDelete = custom("images_to_delete", KindStringList, func(s *State) (any, bool) {
		if s.ImagesToDelete != nil {
			return s.ImagesToDelete, true
		}
		return nil, false
	})

	FieldBootStatementSet = boolField("boot_statement_set", func(s *State) *bool { return s.BootStatementSet })
	FieldReloadTime       = stringField("reload_time", func(s *State) *string { return s.ReloadTime }, NotEmptyString)
	FieldReloadSet        = boolField("reload_set", func(s *State) *bool { return s.ReloadSet })
	FieldSCPEnabled       = boolField("scp_enabled", func(s *State) *bool { return s.SCPEnabled })
	FieldBulkModeSupported = boolField("supports_ssh_bulk_mode",
		func(s *State) *bool { return s.BulkModeSupported })
	FieldBulkModeEnabled = boolField("ssh_bulk_mode", func(s *State) *bool { return s.BulkModeEnabled })
	FieldPingStatus      = boolField("ping_status", func(s *State) *bool { return s.PingStatus })
	FieldMonitorStatus   = boolField("monitor_status", func(s *State) *bool { return s.MonitorStatus })
	FieldInactive        = boolField("inactive", func(s *State) *bool { return s.Inactive })
)

// Catalogue indexes every custom field by name.
var Catalogue = buildCatalogue(
	FieldAuthStatus, FieldConnectionError, FieldHostnameVerified, FieldDNSIP,
	FieldStackInfo, FieldCurrentImage, FieldOSVersion, FieldIsAtTarget,
	FieldPrimaryImage, FieldPrimaryImageMD5, FieldPrimaryImageSize,
	FieldPrimaryImageInFlash, FieldPrimaryImageMD5Verified, FieldFlashSpaceAvailable,
	FieldImagesToDelete, FieldBootStatementSet, FieldReloadTime, FieldReloadSet,
	FieldSCPEnabled, FieldBulkModeSupported, FieldBulkModeEnabled,
	FieldPingStatus, FieldMonitorStatus, FieldInactive,
)

func buildCatalogue(fields ...Field) map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}

// GetRequired checks the host for the required fields and validates them.
// It returns the values in field order and a flag that is true only when all
// fields are present and valid. Missing or invalid fields are logged; they
// are never an error that should abort a fleet run, only a reason for the
// calling step to skip this host.
func GetRequired(h *Host, fields ...Field) ([]any, bool) {
	values := make([]any, 0, len(fields))
	var missing, invalid []string
	ok := true
	for _, f := range fields {
		v, present := f.get(&h.State)
		if !present {
			missing = append(missing, f.Name)
			ok = false
			continue
		}
		if !f.Validate(v) {
			invalid = append(invalid, f.Name)
			ok = false
			continue
		}
		values = append(values, v)
	}
	if len(missing) > 0 {
		slog.Error("host_vars_missing", "host", h.Name, "fields", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		slog.Error("host_vars_invalid", "host", h.Name, "fields", strings.Join(invalid, ", "))
	}
	return values, ok
}

// Validate checks a value against a named field of the catalogue. Unknown
// field names validate to false.
func Validate(name string, value any) bool {
	f, ok := Catalogue[name]
	if !ok {
		return false
	}
	return f.Validate(value)
}
