// Package config loads the two files ddnsfw reads at startup.
//
// # Entries file
//
// The entries file lists the desired grants, one "hostname:port" per line.
// Blank lines and # comments are ignored. A malformed line, an invalid
// hostname, a port outside 1..65535 or more than [MaxEntries] entries fails
// the whole load; entries are never truncated.
//
//	# DDNS firewall entries
//	home.dyndns.org:22
//	office.example.net:5432
//
// # Settings file
//
// The optional HCL settings file tunes everything else. Expressions may read
// the environment through env.NAME.
//
//	backend      = "nftables"
//	lock_timeout = "30s"
//
//	resolver {
//	  mode    = "dns"
//	  servers = ["1.1.1.1", env.DDNSFW_FALLBACK_NS]
//	  timeout = "10s"
//	}
//
//	history {
//	  keep = 500
//	}
//
// Relative paths are resolved against the directory holding the settings file.
package config
