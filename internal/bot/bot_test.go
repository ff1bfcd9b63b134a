package bot

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	p := NewCommandParser()
	tests := []struct {
		text string
		cmd  string
		args []string
		ok   bool
	}{
		{"/balance", "balance", nil, true},
		{"  /Stakes  ", "stakes", nil, true},
		{"/link@StakingBot ABCD2345", "link", []string{"ABCD2345"}, true},
		{"!help", "help", nil, true},
		{".referrals me", "referrals", []string{"me"}, true},
		{"balance", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, tc := range tests {
		cmd, args, ok := p.ParseCommand(tc.text)
		if cmd != tc.cmd || ok != tc.ok || !reflect.DeepEqual(args, tc.args) {
			t.Fatalf("%q: got (%q, %v, %v) want (%q, %v, %v)", tc.text, cmd, args, ok, tc.cmd, tc.args, tc.ok)
		}
	}
}
