package gitstore

import "time"

// now is swapped in tests to produce deterministic commits.
var now = time.Now
