// Package testutil provides testing utilities and test fixtures for the
// gateway. It includes a controllable clock, client and session fixtures, a
// call-counting store wrapper and a small HTTP request builder.
package testutil
