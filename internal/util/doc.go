// Package util provides small helpers shared by the gateway packages.
//
// Key utilities:
//   - SafeTruncate: truncates tokens before they are logged
//   - SplitList: splits comma or space separated scope and value lists
package util
