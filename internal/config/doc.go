// Package config loads the JSON configuration of the ACE daemon. The file is
// located through ACE_CONFIG (default configs/ace.json); relative file paths
// inside it are resolved against the directory holding the file.
package config
