package netx

import (
	"net"
)

// FallbackHost 在找不到可用地址时用于展示。
const FallbackHost = "localhost"

// 通过可替换的函数指针，让测试能稳定模拟不同的网卡状态。
var interfaces = func() ([]iface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]iface, 0, len(ifs))
	for i := range ifs {
		it := ifs[i]
		out = append(out, iface{
			flags: it.Flags,
			addrs: it.Addrs,
		})
	}
	return out, nil
}

type iface struct {
	flags net.Flags
	addrs func() ([]net.Addr, error)
}

// LocalIP 返回本机第一个可用于局域网访问的 IPv4 地址（字符串形式）。
//
// 规则：网卡必须 up 且不是 loopback；地址排除 loopback 与 link-local。
// 任何失败或无结果都回退为 "localhost"（只用于展示，不影响监听）。
func LocalIP() string {
	ifs, err := interfaces()
	if err != nil {
		return FallbackHost
	}
	for _, it := range ifs {
		if it.flags&net.FlagUp == 0 || it.flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := it.addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ip := usableIPv4(a); ip != nil {
				return ip.String()
			}
		}
	}
	return FallbackHost
}

func usableIPv4(a net.Addr) net.IP {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	default:
		return nil
	}
	ip4 := ip.To4()
	if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() || ip4.IsUnspecified() {
		return nil
	}
	return ip4
}

// DisplayHost 决定说明文字/浏览器 URL 中使用的主机名：
// 显式绑定到具体地址时用该地址，否则用 LocalIP。
func DisplayHost(bind string) string {
	switch bind {
	case "", "0.0.0.0", "::", "[::]":
		return LocalIP()
	default:
		return bind
	}
}
