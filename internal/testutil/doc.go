// Package testutil provides scripted model responses and canned tools used
// across package tests.
package testutil
