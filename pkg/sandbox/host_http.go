package sandbox

import (
	"io"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

// The wasmlet_http host interface: the guest-facing incoming-request and
// response-outparam surface. One sandbox carries exactly one request, so
// calls address the current request implicitly rather than through
// resource handles.
//
// String results follow the buffer convention: the guest passes (ptr, cap),
// the host writes min(cap, len) bytes and returns the full length, so a
// short buffer is detectable and the call retryable. Negative returns are
// the shared host-call error codes.
const httpModule = "wasmlet_http"

func defineHTTPHost(linker *wasmtime.Linker, sb *Sandbox) error {
	funcs := map[string]interface{}{
		"req_method": func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
			return writeString(caller, ptr, capacity, sb.req.method)
		},
		"req_path": func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
			return writeString(caller, ptr, capacity, sb.req.pathQuery)
		},
		"req_authority": func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
			return writeString(caller, ptr, capacity, sb.req.authority)
		},
		"req_scheme": func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
			return writeString(caller, ptr, capacity, sb.req.scheme)
		},
		"req_header_count": func(caller *wasmtime.Caller) int32 {
			return int32(len(sb.req.headers))
		},
		"req_header_name": func(caller *wasmtime.Caller, i, ptr, capacity int32) int32 {
			if i < 0 || int(i) >= len(sb.req.headers) {
				return errInvalid
			}
			return writeString(caller, ptr, capacity, sb.req.headers[i].name)
		},
		"req_header_value": func(caller *wasmtime.Caller, i, ptr, capacity int32) int32 {
			if i < 0 || int(i) >= len(sb.req.headers) {
				return errInvalid
			}
			return writeString(caller, ptr, capacity, sb.req.headers[i].value)
		},
		"req_body_read": func(caller *wasmtime.Caller, ptr, capacity int32) int32 {
			buf, ok := guestSlice(caller, ptr, capacity)
			if !ok {
				return errFault
			}
			n, err := sb.req.body.Read(buf)
			if n > 0 {
				return int32(n)
			}
			if err == io.EOF {
				return 0
			}
			if err != nil {
				return errIO
			}
			return 0
		},
		"resp_set_header": func(caller *wasmtime.Caller, namePtr, nameLen, valPtr, valLen int32) int32 {
			name, ok := guestString(caller, namePtr, nameLen)
			if !ok {
				return errFault
			}
			value, ok := guestString(caller, valPtr, valLen)
			if !ok {
				return errFault
			}
			return sb.resp.setHeader(name, value)
		},
		"resp_set": func(caller *wasmtime.Caller, status int32) int32 {
			return sb.resp.setResponse(status)
		},
		"resp_abort": func(caller *wasmtime.Caller, msgPtr, msgLen int32) int32 {
			msg, ok := guestString(caller, msgPtr, msgLen)
			if !ok {
				return errFault
			}
			return sb.resp.abort(msg)
		},
		"resp_body_write": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			data, ok := guestSlice(caller, ptr, length)
			if !ok {
				return errFault
			}
			return sb.resp.writeBody(data)
		},
	}

	for name, fn := range funcs {
		if err := linker.FuncWrap(httpModule, name, fn); err != nil {
			return err
		}
	}
	return nil
}

// guestMemory returns the guest's exported linear memory, or nil when the
// module exports none.
func guestMemory(caller *wasmtime.Caller) []byte {
	ext := caller.GetExport("memory")
	if ext == nil {
		return nil
	}
	mem := ext.Memory()
	if mem == nil {
		return nil
	}
	return mem.UnsafeData(caller)
}

// guestSlice bounds-checks a (ptr, len) pair against guest memory.
func guestSlice(caller *wasmtime.Caller, ptr, length int32) ([]byte, bool) {
	mem := guestMemory(caller)
	if mem == nil || ptr < 0 || length < 0 {
		return nil, false
	}
	end := int64(ptr) + int64(length)
	if end > int64(len(mem)) {
		return nil, false
	}
	return mem[ptr:end], true
}

func guestString(caller *wasmtime.Caller, ptr, length int32) (string, bool) {
	b, ok := guestSlice(caller, ptr, length)
	if !ok {
		return "", false
	}
	return string(b), true
}

// writeString copies s into the guest buffer, truncating to capacity, and
// returns the full length so the guest can grow and retry.
func writeString(caller *wasmtime.Caller, ptr, capacity int32, s string) int32 {
	buf, ok := guestSlice(caller, ptr, capacity)
	if !ok {
		return errFault
	}
	copy(buf, s)
	return int32(len(s))
}
