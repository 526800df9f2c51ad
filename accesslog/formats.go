package accesslog

// Named formats accepted by NewFormatter in place of a format string.
var Formats = map[string]string{
	"common":                `%h %l %u %t "%r" %>s %b`,
	"common_vhost":          `%v %h %l %u %t "%r" %>s %b`,
	"combined":              `%h %l %u %t "%r" %>s %b "%{Referer}i" "%{User-agent}i"`,
	"referer":               `%{Referer}i -> %U`,
	"agent":                 `%{User-agent}i`,
	"vhost":                 `%v %h %l %u %t "%r" %>s %b "%{Referer}i" "%{User-agent}i"`,
	"common_debian":         `%h %l %u %t "%r" %>s %O`,
	"combined_debian":       `%h %l %u %t "%r" %>s %O "%{Referer}i" "%{User-Agent}i"`,
	"vhost_combined_debian": `%v:%p %h %l %u %t "%r" %>s %O "%{Referer}i" "%{User-Agent}i"`,
}
