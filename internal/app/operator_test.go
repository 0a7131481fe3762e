package app

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
)

func TestParseOperatorCommandSimple(t *testing.T) {
	for _, text := range []string{"/status", "/STATUS", "/status@keeperbot", "  /status  "} {
		cmd, err := parseOperatorCommand(text)
		if err != nil {
			t.Fatalf("parseOperatorCommand(%q): %v", text, err)
		}
		if cmd.name != "status" {
			t.Fatalf("parseOperatorCommand(%q) = %q", text, cmd.name)
		}
	}
}

func TestParseOperatorCommandAmounts(t *testing.T) {
	cmd, err := parseOperatorCommand("/utilize 1000")
	if err != nil {
		t.Fatalf("parseOperatorCommand: %v", err)
	}
	if cmd.name != "utilize" || !cmd.amount.Equal(sdkmath.NewInt(1000)) {
		t.Fatalf("got %q %s", cmd.name, cmd.amount)
	}
	if _, err := parseOperatorCommand("/deutilize"); err == nil {
		t.Fatalf("expected error for missing amount")
	}
	if _, err := parseOperatorCommand("/utilize -5"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	if _, err := parseOperatorCommand("/utilize much"); err == nil {
		t.Fatalf("expected error for non-numeric amount")
	}
}

func TestParseOperatorCommandUnknown(t *testing.T) {
	for _, text := range []string{"", "hello", "/selfdestruct", "status"} {
		if _, err := parseOperatorCommand(text); !errors.Is(err, errUnknownCommand) {
			t.Fatalf("parseOperatorCommand(%q): expected errUnknownCommand, got %v", text, err)
		}
	}
}
