package http

import xutil "MarketPulse/pkg/util"

// QueryIntInRange reads an int query value, falling back to def when missing,
// malformed or outside [lo, hi].
func QueryIntInRange(s string, def, lo, hi int) int { return xutil.ParseIntInRange(s, def, lo, hi) }
