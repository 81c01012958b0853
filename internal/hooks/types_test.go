package hooks

import (
	"testing"
	"time"
)

func TestHookTypeValid(t *testing.T) {
	cases := []struct {
		typ  HookType
		want bool
	}{
		{PreCommand, true},
		{PostCommand, true},
		{PostExecution, true},
		{SessionStart, true},
		{PreCompact, true},
		{CustomHook("deploy"), true},
		{HookType("custom:"), false},
		{HookType("pre-command"), false},
		{HookType(""), false},
	}
	for _, tc := range cases {
		if got := tc.typ.Valid(); got != tc.want {
			t.Errorf("Valid(%q) = %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestCustomHookType(t *testing.T) {
	typ := CustomHook("deploy")
	if typ.String() != "custom:deploy" {
		t.Errorf("CustomHook = %q, want custom:deploy", typ)
	}
	if !typ.IsCustom() {
		t.Error("IsCustom = false for a custom type")
	}
	if PreCommand.IsCustom() {
		t.Error("IsCustom = true for a built-in type")
	}
}

func TestHookConfigValidate(t *testing.T) {
	if err := DefaultHookConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (HookConfig{Timeout: time.Second, MaxRetries: MaxRetriesLimit, Enabled: true}).Validate(); err != nil {
		t.Errorf("config at the retry limit invalid: %v", err)
	}
	if err := (HookConfig{Timeout: -time.Second}).Validate(); err == nil {
		t.Error("negative timeout accepted")
	}
	if err := (HookConfig{MaxRetries: MaxRetriesLimit + 1}).Validate(); err == nil {
		t.Error("retries over the limit accepted")
	}
	if err := (HookConfig{MaxRetries: -1}).Validate(); err == nil {
		t.Error("negative retries accepted")
	}
}

func TestPayloadBuilders(t *testing.T) {
	p := NewPayload("kubectl delete pod web").
		WithContext("namespace", "prod").
		WithMetadata("origin", "api")

	if p.Command != "kubectl delete pod web" {
		t.Errorf("command = %q", p.Command)
	}
	if p.Context["namespace"] != "prod" {
		t.Errorf("context = %v", p.Context)
	}
	if v, ok := p.MetadataString("origin"); !ok || v != "api" {
		t.Errorf("MetadataString(origin) = %q, %v", v, ok)
	}
	if _, ok := p.MetadataString("absent"); ok {
		t.Error("MetadataString found an absent key")
	}

	p.WithMetadata("attempt", 2)
	if _, ok := p.MetadataString("attempt"); ok {
		t.Error("MetadataString returned a non-string value")
	}
}
