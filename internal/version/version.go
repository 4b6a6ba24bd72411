package version

// Current is the released version of sdrf-validate, without a "v" prefix.
const Current = "0.1.0"
