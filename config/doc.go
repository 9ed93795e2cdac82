// Package config loads the gate configuration.
//
// Configuration comes from a YAML file and TOOLGATE_* environment
// variables through viper. After decoding, string values are expanded:
// ${VAR} must name a set variable, $$ is a literal dollar and a value of
// the form secretref:<provider>:<ref> is replaced by the secret it names.
// The env provider reads an environment variable and the file provider
// reads a file, so a policy document can live next to the configuration:
//
//	policy_mode: custom
//	policy_document: secretref:file:./policy.cedar
package config
