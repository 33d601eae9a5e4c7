package dbopen

import _ "modernc.org/sqlite" // registers the "sqlite" driver
