package translate

import "testing"

func TestTranslate_KeysDiscovery(t *testing.T) {
	got := Translate("@keys", "042")
	want := Status{Source: "system", Type: "@keys", Value: "42"}
	if got != want {
		t.Errorf("Translate(@keys) = %+v, want %+v", got, want)
	}
}

func TestTranslate_GitPrefix(t *testing.T) {
	got := Translate("ess/git/branch", "main")
	want := Status{Source: "git", Type: "branch", Value: "main"}
	if got != want {
		t.Errorf("Translate(ess/git/branch) = %+v, want %+v", got, want)
	}
}

func TestTranslate_ObsActiveAliasesToInObs(t *testing.T) {
	for _, name := range []string{"ess/obs_active", "ess/in_obs"} {
		got := Translate(name, "1")
		want := Status{Source: "ess", Type: "in_obs", Value: "1"}
		if got != want {
			t.Errorf("Translate(%s) = %+v, want %+v", name, got, want)
		}
	}
}

func TestTranslate_ObsActiveUnparsableDefaultsToZero(t *testing.T) {
	for _, in := range []string{"not-a-number", "1.0"} {
		got := Translate("ess/obs_active", in)
		if got.Value != "0" {
			t.Errorf("Translate(ess/obs_active, %q).Value = %q, want %q", in, got.Value, "0")
		}
	}
}

func TestTranslate_GenericSourceSplit(t *testing.T) {
	got := Translate("system/hostname", "homebase-01")
	want := Status{Source: "system", Type: "hostname", Value: "homebase-01"}
	if got != want {
		t.Errorf("Translate(system/hostname) = %+v, want %+v", got, want)
	}
}

func TestTranslate_NoSlashFallsBackToSystemSource(t *testing.T) {
	got := Translate("charging", "true")
	want := Status{Source: "system", Type: "charging", Value: "true"}
	if got != want {
		t.Errorf("Translate(charging) = %+v, want %+v", got, want)
	}
}

func TestTranslate_NumericCanonicalization(t *testing.T) {
	cases := []struct{ in, want string }{
		{"3.300000", "3.3"},
		{"007", "7"},
		{"  12  ", "12"},
		{"not-numeric", "not-numeric"},
	}
	for _, c := range cases {
		got := Translate("system/voltage", c.in)
		if got.Value != c.want {
			t.Errorf("Translate(system/voltage, %q).Value = %q, want %q", c.in, got.Value, c.want)
		}
	}
}
