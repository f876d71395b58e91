// Package fluid implements the 64-bit locally-unique ID generator: a
// [timestamp:40 | generator-id:14 | seq:10] bit layout with monotonically
// increasing output per generator, plus dothex/mnemonic/f58/integer
// string codecs with auto-detection.
package fluid
