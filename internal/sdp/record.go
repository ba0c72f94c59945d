package sdp

import (
	"encoding/hex"
	"fmt"
)

// serviceRecordXML is the BlueZ SDP record template for a HID combo device.
// The %s placeholder receives the hex-encoded report descriptor. The
// attribute values 0x1124 (HumanInterfaceDeviceService), profile version
// 0x0101, subclass 0xC0 and the boot/virtual-cable/reconnect booleans must
// stay bit-exact for generic host stacks to accept the device.
const serviceRecordXML = `<?xml version="1.0" encoding="UTF-8" ?>
<record>
  <attribute id="0x0001"> <!-- ServiceClassIDList -->
    <sequence>
      <uuid value="0x1124" /> <!-- HumanInterfaceDeviceService -->
    </sequence>
  </attribute>
  <attribute id="0x0004"> <!-- ProtocolDescriptorList -->
    <sequence>
      <sequence>
        <uuid value="0x0100" /> <!-- L2CAP -->
        <uint16 value="0x0011" /> <!-- PSM=HID_Control -->
      </sequence>
      <sequence>
        <uuid value="0x0011" /> <!-- HIDP -->
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0005"> <!-- BrowseGroupList -->
    <sequence>
      <uuid value="0x1002" /> <!-- PublicBrowseRoot -->
    </sequence>
  </attribute>
  <attribute id="0x0006"> <!-- LanguageBaseAttributeIDList -->
    <sequence>
      <uint16 value="0x656E" /> <!-- en -->
      <uint16 value="0x006A" /> <!-- UTF-8 -->
      <uint16 value="0x0100" /> <!-- PrimaryLanguage -->
    </sequence>
  </attribute>
  <attribute id="0x0009"> <!-- BluetoothProfileDescriptorList -->
    <sequence>
      <sequence>
        <uuid value="0x1124" /> <!-- HumanInterfaceDeviceService -->
        <uint16 value="0x0101" /> <!-- Version 1.1 -->
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x000D"> <!-- AdditionalProtocolDescriptorList -->
    <sequence>
      <sequence>
        <sequence>
          <uuid value="0x0100" /> <!-- L2CAP -->
          <uint16 value="0x0013" /> <!-- PSM=HID_Interrupt -->
        </sequence>
        <sequence>
          <uuid value="0x0011" /> <!-- HIDP -->
        </sequence>
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0100"> <!-- ServiceName -->
    <text value="hidlink HID" />
  </attribute>
  <attribute id="0x0101"> <!-- ServiceDescription -->
    <text value="Bluetooth Keyboard + Mouse bridge" />
  </attribute>
  <attribute id="0x0102"> <!-- ProviderName -->
    <text value="hidlink" />
  </attribute>
  <attribute id="0x0200"> <!-- HIDDeviceReleaseNumber -->
    <uint16 value="0x0100" />
  </attribute>
  <attribute id="0x0201"> <!-- HIDParserVersion -->
    <uint16 value="0x0111" />
  </attribute>
  <attribute id="0x0202"> <!-- HIDDeviceSubclass -->
    <uint8 value="0xC0" /> <!-- Combo: keyboard + pointing -->
  </attribute>
  <attribute id="0x0203"> <!-- HIDCountryCode -->
    <uint8 value="0x00" />
  </attribute>
  <attribute id="0x0204"> <!-- HIDVirtualCable -->
    <boolean value="true" />
  </attribute>
  <attribute id="0x0205"> <!-- HIDReconnectInitiate -->
    <boolean value="true" />
  </attribute>
  <attribute id="0x0206"> <!-- HIDDescriptorList -->
    <sequence>
      <sequence>
        <uint8 value="0x22" /> <!-- Report Descriptor -->
        <text encoding="hex" value="%s" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x0207"> <!-- HIDLANGIDBaseList -->
    <sequence>
      <sequence>
        <uint16 value="0x0409" /> <!-- English (US) -->
        <uint16 value="0x0100" />
      </sequence>
    </sequence>
  </attribute>
  <attribute id="0x020B"> <!-- HIDProfileVersion -->
    <uint16 value="0x0100" />
  </attribute>
  <attribute id="0x020C"> <!-- HIDSupervisionTimeout -->
    <uint16 value="0x0C80" />
  </attribute>
  <attribute id="0x020E"> <!-- HIDBootDevice -->
    <boolean value="true" />
  </attribute>
</record>
`

// BuildServiceRecord renders the SDP record XML with the hex-encoded combo
// report descriptor.
func BuildServiceRecord() string {
	return fmt.Sprintf(serviceRecordXML, hex.EncodeToString(ComboReportDescriptor))
}
