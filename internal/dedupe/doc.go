// Package dedupe remembers recently announced keys so repeated
// announcements of the same participant or track can be dropped.
package dedupe
