package discovery

import (
	"net"
	"strings"
)

// getLocalIps 本机非回环 ipv4 地址
func getLocalIps() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	var ips []string
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil {
			ips = append(ips, ip.String())
		}
	}
	return ips, nil
}

// splitKey {prefix}/{service}/{nodeid} -> service, nodeid
func splitKey(key string) (string, string) {
	l := strings.Split(key, "/")
	if len(l) > 2 {
		return l[len(l)-2], l[len(l)-1]
	}
	return "", ""
}

func joinKey(parts ...string) string {
	return strings.Join(parts, "/")
}
