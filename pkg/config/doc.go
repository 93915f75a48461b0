/*
Package config loads server bootstrap configuration from YAML and parses
provider option strings.

Bootstrap describes one node's startup parameters (identity, addresses,
rollback discipline, SST ordering); LoadBootstrap reads and validates a
file in one step. ParseProviderOptions handles the semicolon-delimited
"key=value; key=value" string a provider accepts at connect time, so
operator tooling can validate and display it before a node ever joins.
*/
package config
