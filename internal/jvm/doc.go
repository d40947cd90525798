// Package jvm locates a Java runtime and reports its major version.
//
// Discovery tries, in order, an explicitly configured Java home (or java
// executable), the JAVA_HOME environment variable, and finally the platform
// PATH lookup command (which/where). The first candidate that exists on disk
// wins and no later strategy is attempted.
//
// Nothing in this package returns an error to its callers. Failed lookups,
// subprocess errors, timeouts and unparseable banners all collapse into a
// single "not found" or "version unknown" outcome so activation can show one
// consistent message.
package jvm
