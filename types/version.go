package types

// Version is the release version of the aipfs binary and packages.
const Version = "0.3.0"

// JournalVersion tags every journal record. Bumped when the record
// shape changes incompatibly.
const JournalVersion = "1"
