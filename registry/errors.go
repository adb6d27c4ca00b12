package registry

import "github.com/tensorpool/tpool/tpcmn/cos"

var errChannelStreamMismatch = cos.NewInvalidWireErr("registry: channel and stream id must be both set or both unset")
