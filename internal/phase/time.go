package phase

import "time"

// timeNow is the clock used for phase timestamps. Tests replace it.
var timeNow = time.Now
