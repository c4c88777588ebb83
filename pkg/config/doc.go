/*
Package config loads coordinator configuration.

Precedence is defaults, then an optional YAML file, then SHUTTLE_*
environment variables. The connector URL map keys worker base URLs by source
type; admission caps and scheduler cadence default to the values documented
on Default.
*/
package config
