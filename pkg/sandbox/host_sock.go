package sandbox

import (
	"context"
	"io"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/jingkaihe/wasmlet/pkg/policy"
)

// The wasmlet_sock host interface mediates every socket the guest opens.
// Addresses cross the boundary as "ip:port" strings ("[v6]:port"); names
// must go through wasmlet_dns first, which keeps the policy check a pure
// IP-level decision. Each address-taking call consults the sandbox's
// socket check with the matching use before the host touches the network.
const (
	sockModule = "wasmlet_sock"
	dnsModule  = "wasmlet_dns"
)

type socketTable struct {
	mu      sync.Mutex
	next    int32
	entries map[int32]io.Closer
}

func newSocketTable() *socketTable {
	return &socketTable{next: 1, entries: make(map[int32]io.Closer)}
}

func (t *socketTable) add(c io.Closer) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.entries[fd] = c
	return fd
}

func (t *socketTable) get(fd int32) io.Closer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[fd]
}

func (t *socketTable) remove(fd int32) io.Closer {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.entries[fd]
	delete(t.entries, fd)
	return c
}

func (t *socketTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for fd, c := range t.entries {
		c.Close()
		delete(t.entries, fd)
	}
}

func (t *socketTable) conn(fd int32) net.Conn {
	if c, ok := t.get(fd).(net.Conn); ok {
		return c
	}
	return nil
}

func (t *socketTable) listener(fd int32) net.Listener {
	if l, ok := t.get(fd).(net.Listener); ok {
		return l
	}
	return nil
}

func (t *socketTable) udp(fd int32) *net.UDPConn {
	if u, ok := t.get(fd).(*net.UDPConn); ok {
		return u
	}
	return nil
}

func defineSockHost(linker *wasmtime.Linker, sb *Sandbox) error {
	guestAddr := func(caller *wasmtime.Caller, ptr, length int32) (netip.AddrPort, int32) {
		s, ok := guestString(caller, ptr, length)
		if !ok {
			return netip.AddrPort{}, errFault
		}
		addr, err := netip.ParseAddrPort(s)
		if err != nil {
			return netip.AddrPort{}, errInvalid
		}
		return addr, errOK
	}

	funcs := map[string]interface{}{
		"tcp_connect": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			addr, code := guestAddr(caller, ptr, length)
			if code != errOK {
				return code
			}
			if !sb.allowAddr(addr, policy.TCPConnect) {
				return errNotAllowed
			}
			conn, err := net.Dial("tcp", addr.String())
			if err != nil {
				return errIO
			}
			return sb.socks.add(conn)
		},
		"tcp_bind": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			addr, code := guestAddr(caller, ptr, length)
			if code != errOK {
				return code
			}
			if !sb.allowAddr(addr, policy.TCPBind) {
				return errNotAllowed
			}
			ln, err := net.Listen("tcp", addr.String())
			if err != nil {
				return errIO
			}
			return sb.socks.add(ln)
		},
		"tcp_accept": func(caller *wasmtime.Caller, fd int32) int32 {
			ln := sb.socks.listener(fd)
			if ln == nil {
				return errBadFD
			}
			conn, err := ln.Accept()
			if err != nil {
				return errIO
			}
			return sb.socks.add(conn)
		},
		"udp_bind": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			addr, code := guestAddr(caller, ptr, length)
			if code != errOK {
				return code
			}
			if !sb.allowAddr(addr, policy.UDPBind) {
				return errNotAllowed
			}
			conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
			if err != nil {
				return errIO
			}
			return sb.socks.add(conn)
		},
		"udp_connect": func(caller *wasmtime.Caller, ptr, length int32) int32 {
			addr, code := guestAddr(caller, ptr, length)
			if code != errOK {
				return code
			}
			if !sb.allowAddr(addr, policy.UDPConnect) {
				return errNotAllowed
			}
			conn, err := net.Dial("udp", addr.String())
			if err != nil {
				return errIO
			}
			return sb.socks.add(conn)
		},
		"send": func(caller *wasmtime.Caller, fd, ptr, length int32) int32 {
			conn := sb.socks.conn(fd)
			if conn == nil {
				return errBadFD
			}
			data, ok := guestSlice(caller, ptr, length)
			if !ok {
				return errFault
			}
			n, err := conn.Write(data)
			if err != nil {
				return errIO
			}
			return int32(n)
		},
		"recv": func(caller *wasmtime.Caller, fd, ptr, capacity int32) int32 {
			conn := sb.socks.conn(fd)
			if conn == nil {
				return errBadFD
			}
			buf, ok := guestSlice(caller, ptr, capacity)
			if !ok {
				return errFault
			}
			n, err := conn.Read(buf)
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
		"send_to": func(caller *wasmtime.Caller, fd, addrPtr, addrLen, ptr, length int32) int32 {
			udp := sb.socks.udp(fd)
			if udp == nil {
				return errBadFD
			}
			addr, code := guestAddr(caller, addrPtr, addrLen)
			if code != errOK {
				return code
			}
			if !sb.allowAddr(addr, policy.UDPOutgoingDatagram) {
				return errNotAllowed
			}
			data, ok := guestSlice(caller, ptr, length)
			if !ok {
				return errFault
			}
			n, err := udp.WriteToUDPAddrPort(data, addr)
			if err != nil {
				return errIO
			}
			return int32(n)
		},
		"close": func(caller *wasmtime.Caller, fd int32) int32 {
			c := sb.socks.remove(fd)
			if c == nil {
				return errBadFD
			}
			c.Close()
			return errOK
		},
	}

	for name, fn := range funcs {
		if err := linker.FuncWrap(sockModule, name, fn); err != nil {
			return err
		}
	}

	// Name resolution is its own capability, gated independently of the
	// address lists.
	return linker.FuncWrap(dnsModule, "lookup_ip",
		func(caller *wasmtime.Caller, namePtr, nameLen, ptr, capacity int32) int32 {
			if !sb.allowDNS {
				return errNotAllowed
			}
			host, ok := guestString(caller, namePtr, nameLen)
			if !ok {
				return errFault
			}
			addrs, err := net.DefaultResolver.LookupNetIP(context.Background(), "ip", host)
			if err != nil {
				return errIO
			}
			strs := make([]string, 0, len(addrs))
			for _, a := range addrs {
				strs = append(strs, a.String())
			}
			return writeString(caller, ptr, capacity, strings.Join(strs, "\n"))
		})
}
