package link

// DefaultCatalog is the fixed subscription catalog seeded on every
// (re)connect (spec §6). A Config.SubscriptionCatalog override replaces
// this list wholesale when non-empty.
var DefaultCatalog = []string{
	// System.
	"system/hostname", "system/hostaddr", "system/os",

	// ESS identity/state.
	"ess/subject", "ess/project", "ess/system", "ess/protocol", "ess/variant",
	"ess/systems", "ess/protocols", "ess/variants", "ess/state", "ess/status",
	"ess/running", "ess/remote", "ess/name", "ess/ipaddr", "ess/rmt_host",
	"ess/rmt_connected",

	// Observation.
	"ess/obs_active", "ess/in_obs", "ess/obs_id", "ess/obs_total", "ess/obs_count",

	// Files.
	"ess/data_dir", "ess/datafile", "ess/lastfile", "ess/system_path", "ess/executable",

	// Git.
	"ess/git/status", "ess/git/branches", "ess/git/branch", "ess/git/tag",

	// Loading.
	"ess/loading_start_time", "ess/loading_progress", "ess/loading_operation_id",

	// Params.
	"ess/variant_info", "ess/param_settings", "ess/params",

	// Misc.
	"ess/time", "ess/block_id", "ess/warningInfo",

	// Discovery.
	"@keys",
}
