package storage

import logx "gcpacer/pkg/logx"

var logNop = logx.Nop()
